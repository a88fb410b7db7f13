package domain

import (
	"strings"
	"time"
)

// TranscriptStatus represents the readiness of a video's transcript
type TranscriptStatus string

const (
	TranscriptPending TranscriptStatus = "pending"
	TranscriptReady   TranscriptStatus = "ready"
	TranscriptError   TranscriptStatus = "error"
)

// IsValid checks if the transcript status is valid
func (s TranscriptStatus) IsValid() bool {
	switch s {
	case TranscriptPending, TranscriptReady, TranscriptError:
		return true
	}
	return false
}

// TranscriptSource records where the transcript text came from
type TranscriptSource string

const (
	SourcePersisted TranscriptSource = "persisted"
	SourceSidecar   TranscriptSource = "sidecar"
	SourceIngest    TranscriptSource = "ingest"
)

// Metadata fields an operator may pin in the persisted index.
const (
	FieldTitle       = "title"
	FieldCategory    = "category"
	FieldTopic       = "topic"
	FieldDifficulty  = "difficulty"
	FieldVersionTags = "version_tags"
	FieldTags        = "tags"
)

// Segment is one timestamped piece of transcript, in seconds from the start of the video.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// VideoRecord is a catalog row for one video file.
type VideoRecord struct {
	ID       string `json:"id"`
	RelPath  string `json:"rel_path"`
	FileName string `json:"file_name"`

	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Topic       string   `json:"topic"`
	Difficulty  string   `json:"difficulty"`
	VersionTags []string `json:"version_tags,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	// ExplicitFields lists metadata fields set by an operator; derivation never touches them.
	ExplicitFields []string `json:"explicit_fields,omitempty"`

	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
	ModTime         time.Time `json:"mod_time"`
	ProbedSize      int64     `json:"probed_size,omitempty"`
	ProbedModTime   time.Time `json:"probed_mod_time,omitempty"`

	TranscriptStatus    TranscriptStatus `json:"transcript_status"`
	TranscriptText      string           `json:"transcript_text,omitempty"`
	TranscriptLanguage  string           `json:"transcript_language,omitempty"`
	TranscriptSource    TranscriptSource `json:"transcript_source,omitempty"`
	TranscriptUpdatedAt time.Time        `json:"transcript_updated_at,omitempty"`
	TranscriptError     string           `json:"transcript_error,omitempty"`
	Segments            []Segment        `json:"segments,omitempty"`

	PlaybackURL     string `json:"playback_url"`
	SourceURL       string `json:"source_url,omitempty"`
	SourceAvailable bool   `json:"source_available"`
	Fingerprint     string `json:"fingerprint"`
}

// IsReady reports whether the transcript can be searched.
func (v *VideoRecord) IsReady() bool {
	return v.TranscriptStatus == TranscriptReady
}

// IsExplicit reports whether field was pinned by an operator.
func (v *VideoRecord) IsExplicit(field string) bool {
	for _, f := range v.ExplicitFields {
		if f == field {
			return true
		}
	}
	return false
}

// NormalizeStatus repairs the status/text invariant: ready iff text is non-empty.
func (v *VideoRecord) NormalizeStatus() {
	hasText := strings.TrimSpace(v.TranscriptText) != ""
	switch {
	case hasText:
		v.TranscriptStatus = TranscriptReady
	case v.TranscriptStatus == TranscriptReady, !v.TranscriptStatus.IsValid():
		v.TranscriptStatus = TranscriptPending
	}
}

// DurationMinutes returns the duration in minutes, zero when unknown.
func (v *VideoRecord) DurationMinutes() float64 {
	return v.DurationSeconds / 60
}

// Clone returns a deep copy so callers cannot mutate store-owned slices.
func (v VideoRecord) Clone() VideoRecord {
	out := v
	out.VersionTags = append([]string(nil), v.VersionTags...)
	out.Tags = append([]string(nil), v.Tags...)
	out.ExplicitFields = append([]string(nil), v.ExplicitFields...)
	out.Segments = append([]Segment(nil), v.Segments...)
	return out
}

// Facets constrains which videos are eligible for a query.
type Facets struct {
	Category           string  `json:"category"`
	Difficulty         string  `json:"difficulty"`
	VersionTag         string  `json:"version_tag"`
	MaxDurationMinutes float64 `json:"max_duration_minutes"`
}

// FacetAll is the wildcard facet value.
const FacetAll = "all"

// Normalized returns the facets with wildcard values folded to "all".
func (f Facets) Normalized() Facets {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return FacetAll
		}
		return s
	}
	out := Facets{
		Category:           norm(f.Category),
		Difficulty:         norm(f.Difficulty),
		VersionTag:         norm(f.VersionTag),
		MaxDurationMinutes: f.MaxDurationMinutes,
	}
	if out.MaxDurationMinutes < 0 {
		out.MaxDurationMinutes = 0
	}
	return out
}

// Matches reports whether v satisfies every facet. Unknown duration never fails the
// duration bound.
func (f Facets) Matches(v *VideoRecord) bool {
	n := f.Normalized()
	if n.Category != FacetAll && !strings.EqualFold(v.Category, n.Category) {
		return false
	}
	if n.Difficulty != FacetAll && !strings.EqualFold(v.Difficulty, n.Difficulty) {
		return false
	}
	if n.VersionTag != FacetAll {
		found := false
		for _, tag := range v.VersionTags {
			if strings.EqualFold(tag, n.VersionTag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if n.MaxDurationMinutes > 0 && v.DurationSeconds > 0 && v.DurationMinutes() > n.MaxDurationMinutes {
		return false
	}
	return true
}

// CatalogStats summarises catalog health.
type CatalogStats struct {
	Total              int     `json:"total"`
	Ready              int     `json:"ready"`
	Pending            int     `json:"pending"`
	Error              int     `json:"error"`
	SourceUnavailable  int     `json:"source_unavailable"`
	TranscriptCoverage float64 `json:"transcript_coverage"`
}

// ComputeStats builds CatalogStats over records.
func ComputeStats(records []VideoRecord) CatalogStats {
	var s CatalogStats
	for i := range records {
		s.Total++
		switch records[i].TranscriptStatus {
		case TranscriptReady:
			s.Ready++
		case TranscriptError:
			s.Error++
		default:
			s.Pending++
		}
		if !records[i].SourceAvailable {
			s.SourceUnavailable++
		}
	}
	if s.Total > 0 {
		s.TranscriptCoverage = float64(s.Ready) / float64(s.Total)
	}
	return s
}
