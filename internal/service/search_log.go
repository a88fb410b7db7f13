package service

import (
	"context"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// SearchLogResult captures a single result entry for logging.
type SearchLogResult struct {
	VideoID string  `json:"video_id"`
	Seconds int     `json:"seconds"`
	Score   float64 `json:"score"`
}

// SearchLogEntry captures a search request and its results.
type SearchLogEntry struct {
	Query          string
	Filters        map[string]any
	RankingMode    string
	Transcription  string
	ConfidenceTier string
	Reason         string
	DurationMs     int
	Results        []SearchLogResult
}

// SearchLogRepository persists search logs and feedback.
type SearchLogRepository interface {
	CreateSearchLog(ctx context.Context, entry SearchLogEntry) (string, error)
	RecordSearchSelection(ctx context.Context, searchID, videoID string, seconds int) error
}

// NewSearchLogEntry summarises a finished search for the log.
func NewSearchLogEntry(input SearchInput, out *SearchOutput, durationMs int) SearchLogEntry {
	entry := SearchLogEntry{
		Query:         out.Query,
		Filters:       map[string]any{},
		RankingMode:   string(out.RankingMode),
		Transcription: string(input.Transcription),
		Reason:        out.Reason,
		DurationMs:    durationMs,
		Results:       make([]SearchLogResult, 0, len(out.Results)),
	}
	f := out.Filters
	if f.Category != "" && f.Category != domain.FacetAll {
		entry.Filters["category"] = f.Category
	}
	if f.Difficulty != "" && f.Difficulty != domain.FacetAll {
		entry.Filters["difficulty"] = f.Difficulty
	}
	if f.VersionTag != "" && f.VersionTag != domain.FacetAll {
		entry.Filters["version_tag"] = f.VersionTag
	}
	if f.MaxDurationMinutes > 0 {
		entry.Filters["max_duration_minutes"] = f.MaxDurationMinutes
	}
	if input.Sort != "" {
		entry.Filters["sort"] = string(input.Sort)
	}
	if out.Confidence != nil {
		entry.ConfidenceTier = string(out.Confidence.Tier)
	}
	for _, r := range out.Results {
		entry.Results = append(entry.Results, SearchLogResult{
			VideoID: r.VideoID,
			Seconds: r.Seconds,
			Score:   r.Score,
		})
	}
	return entry
}
