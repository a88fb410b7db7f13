package service

import (
	"context"
	"log"
	"time"

	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/pagination"
)

// VideoSummary is a catalog row without transcript content.
type VideoSummary struct {
	ID               string                  `json:"id"`
	Title            string                  `json:"title"`
	Category         string                  `json:"category"`
	Topic            string                  `json:"topic"`
	Difficulty       string                  `json:"difficulty"`
	VersionTags      []string                `json:"versionTags"`
	Tags             []string                `json:"tags"`
	DurationMinutes  float64                 `json:"durationMinutes"`
	PlaybackURL      string                  `json:"playbackUrl"`
	TranscriptStatus domain.TranscriptStatus `json:"transcriptStatus"`
	TranscriptError  string                  `json:"transcriptError,omitempty"`
	SourceAvailable  bool                    `json:"sourceAvailable"`
	Ingesting        bool                    `json:"ingesting"`
}

type VideoList struct {
	Stats   domain.CatalogStats `json:"stats"`
	Filters domain.Facets       `json:"filters"`
	Videos  []VideoSummary      `json:"videos"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"hasMore"`
}

// ListQuery selects a page of the catalog. A zero Limit returns every match.
type ListQuery struct {
	Facets domain.Facets
	Cursor string
	Limit  int
}

type RefreshOutput struct {
	Stats        domain.CatalogStats `json:"stats"`
	Fingerprint  string              `json:"fingerprint"`
	LastHydrated time.Time           `json:"lastHydrated"`
}

// ListVideos returns one page of catalog rows matching the query facets, ordered
// by id.
func (s *SearchService) ListVideos(ctx context.Context, q ListQuery) (*VideoList, error) {
	cursor, err := pagination.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, domain.ErrInvalidCursor
	}
	records, err := s.catalog.Refresh(ctx, false, s.opts.Staleness)
	if err != nil {
		return nil, err
	}
	filters := q.Facets.Normalized()
	page := pagination.Paginate(catalog.Filter(records, filters), cursor, q.Limit, func(rec domain.VideoRecord) string {
		return rec.ID
	})

	out := &VideoList{
		Stats:   s.catalog.Stats(),
		Filters: filters,
		Videos:  make([]VideoSummary, 0, len(page.Items)),
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	}
	for i := range page.Items {
		out.Videos = append(out.Videos, s.summarize(&page.Items[i]))
	}
	return out, nil
}

// Video returns one full record, transcript included.
func (s *SearchService) Video(ctx context.Context, id string) (domain.VideoRecord, error) {
	if _, err := s.catalog.Refresh(ctx, false, s.opts.Staleness); err != nil {
		return domain.VideoRecord{}, err
	}
	return s.catalog.Get(id)
}

// EnsureTranscript blocks until the video has a transcript or ctx ends. A caller
// that stops waiting gets ErrTranscriptNotReady while ingestion carries on.
func (s *SearchService) EnsureTranscript(ctx context.Context, id string) (domain.VideoRecord, error) {
	if s.ingestor == nil {
		rec, err := s.catalog.Get(id)
		if err != nil {
			return rec, err
		}
		if rec.IsReady() {
			return rec, nil
		}
		return rec, domain.ErrIngestionDisabled
	}
	return s.ingestor.EnsureTranscriptReady(ctx, id)
}

// StartTranscript starts ingestion without waiting and returns the current record.
func (s *SearchService) StartTranscript(ctx context.Context, id string) (domain.VideoRecord, bool, error) {
	rec, err := s.catalog.Get(id)
	if err != nil {
		return rec, false, err
	}
	if rec.IsReady() {
		return rec, false, nil
	}
	if !rec.SourceAvailable {
		return rec, false, domain.ErrSourceUnavailable
	}
	if s.ingestor == nil {
		return rec, false, domain.ErrIngestionDisabled
	}
	started := s.ingestor.StartBackground(ctx, []string{id}, 1)
	return rec, len(started) > 0, nil
}

// Refresh rehydrates the catalog. A forced refresh ignores the staleness window.
func (s *SearchService) Refresh(ctx context.Context, force bool) (*RefreshOutput, error) {
	started := time.Now()
	if _, err := s.catalog.Refresh(ctx, force, s.opts.Staleness); err != nil {
		return nil, err
	}
	stats := s.catalog.Stats()
	log.Printf("search: catalog refreshed (force=%t, %d videos, %d ready) in %s",
		force, stats.Total, stats.Ready, time.Since(started).Round(time.Millisecond))
	return &RefreshOutput{
		Stats:        stats,
		Fingerprint:  s.catalog.Fingerprint(),
		LastHydrated: started.UTC(),
	}, nil
}

func (s *SearchService) summarize(rec *domain.VideoRecord) VideoSummary {
	return VideoSummary{
		ID:               rec.ID,
		Title:            rec.Title,
		Category:         rec.Category,
		Topic:            rec.Topic,
		Difficulty:       rec.Difficulty,
		VersionTags:      nonNil(rec.VersionTags),
		Tags:             nonNil(rec.Tags),
		DurationMinutes:  round3(rec.DurationMinutes()),
		PlaybackURL:      rec.PlaybackURL,
		TranscriptStatus: rec.TranscriptStatus,
		TranscriptError:  rec.TranscriptError,
		SourceAvailable:  rec.SourceAvailable,
		Ingesting:        s.ingestor != nil && s.ingestor.InFlight(rec.ID),
	}
}
