package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingCacheRepository persists embedding vectors keyed by model and text hash
// so restarts do not pay for re-embedding the catalog.
type EmbeddingCacheRepository struct {
	db dbtx
}

func NewEmbeddingCacheRepository(pool *pgxpool.Pool) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{db: pool}
}

func NewEmbeddingCacheRepositoryWithTx(tx dbtx) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{db: tx}
}

// GetMany returns the vectors stored for keys. Missing keys are absent from the map.
func (r *EmbeddingCacheRepository) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT key, embedding FROM embedding_cache WHERE key = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, fmt.Errorf("query embedding cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var vec pgvector.Vector
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding cache row: %w", err)
		}
		out[key] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) > 0 {
		hit := make([]string, 0, len(out))
		for k := range out {
			hit = append(hit, k)
		}
		// Touch is best effort; a failed update only skews pruning.
		_, _ = r.db.Exec(ctx,
			`UPDATE embedding_cache SET last_used_at = $1 WHERE key = ANY($2)`,
			time.Now().UTC(), hit,
		)
	}

	return out, nil
}

// PutMany upserts vectors in a single batch.
func (r *EmbeddingCacheRepository) PutMany(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for key, vec := range vectors {
		batch.Queue(
			`INSERT INTO embedding_cache (key, embedding, dimensions, created_at, last_used_at)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (key) DO UPDATE
			 SET embedding = EXCLUDED.embedding, dimensions = EXCLUDED.dimensions, last_used_at = EXCLUDED.last_used_at`,
			key, pgvector.NewVector(vec), len(vec), now,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	for range vectors {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert embedding cache: %w", err)
		}
	}
	return results.Close()
}

// Prune deletes vectors unused since before cutoff and reports how many went.
func (r *EmbeddingCacheRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM embedding_cache WHERE last_used_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
