package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

// SearchLogRepository records every answered search and the clip the caller
// eventually picked, which is the raw material for offline eval suites.
type SearchLogRepository struct {
	db  dbtx
	now func() time.Time
}

func NewSearchLogRepository(pool *pgxpool.Pool) *SearchLogRepository {
	return &SearchLogRepository{db: pool, now: time.Now}
}

const insertSearchLog = `
INSERT INTO search_logs (query, filters, ranking_mode, transcription, confidence_tier, reason, results, result_count, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`

// CreateSearchLog stores entry and returns the generated search id. The query
// length is folded into the filters document for cheap analytics.
func (r *SearchLogRepository) CreateSearchLog(ctx context.Context, entry service.SearchLogEntry) (string, error) {
	filters := make(map[string]any, len(entry.Filters)+1)
	for k, v := range entry.Filters {
		filters[k] = v
	}
	filters["query_length"] = len(entry.Query)

	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("marshal filters: %w", err)
	}
	results := entry.Results
	if results == nil {
		results = []service.SearchLogResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}

	var id string
	err = r.db.QueryRow(ctx, insertSearchLog,
		entry.Query,
		filtersJSON,
		entry.RankingMode,
		entry.Transcription,
		nullableString(entry.ConfidenceTier),
		nullableString(entry.Reason),
		resultsJSON,
		len(results),
		entry.DurationMs,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert search log: %w", err)
	}
	return id, nil
}

// RecordSearchSelection stores the clip chosen for searchID. A later selection
// overwrites an earlier one.
func (r *SearchLogRepository) RecordSearchSelection(ctx context.Context, searchID, videoID string, seconds int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE search_logs SET chosen_video_id = $1, chosen_seconds = $2, chosen_at = $3 WHERE id = $4`,
		videoID, seconds, r.now().UTC(), searchID,
	)
	if err != nil {
		return fmt.Errorf("record selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSearchNotFound
	}
	return nil
}

// Prune deletes searches logged before cutoff and reports how many went.
func (r *SearchLogRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM search_logs WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune search logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
