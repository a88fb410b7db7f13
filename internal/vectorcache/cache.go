package vectorcache

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is an optional second-level cache shared across restarts. Its errors are
// logged and never fail a lookup.
type Store interface {
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	PutMany(ctx context.Context, vectors map[string][]float32) error
}

type Config struct {
	// Model namespaces second-level keys so vectors from different models never mix.
	Model       string
	BatchSize   int
	Concurrency int
	MaxQueries  int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   64,
		Concurrency: 4,
		MaxQueries:  256,
	}
}

// Cache memoizes video document, chunk and query vectors. It never retries; retry
// policy belongs to the Embedder.
type Cache struct {
	embedder Embedder
	store    Store
	cfg      Config

	mu               sync.Mutex
	videoFingerprint string
	videos           map[string][]float32
	chunks           map[string][]float32
	queries          map[string][]float32
	queryOrder       []string
}

func New(embedder Embedder, store Store, cfg Config) *Cache {
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = d.MaxQueries
	}
	return &Cache{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		videos:   map[string][]float32{},
		chunks:   map[string][]float32{},
		queries:  map[string][]float32{},
	}
}

type item struct {
	key   string
	l2Key string
	text  string
}

// VideoVectors returns one vector per video id in docs. The whole video map is
// dropped when catalogFingerprint differs from the one it was built for.
func (c *Cache) VideoVectors(ctx context.Context, catalogFingerprint string, docs map[string]string) (map[string][]float32, error) {
	c.mu.Lock()
	if c.videoFingerprint != catalogFingerprint {
		if c.videoFingerprint != "" {
			log.Printf("vectors: catalog changed, dropping %d video vectors", len(c.videos))
		}
		c.videos = map[string][]float32{}
		c.videoFingerprint = catalogFingerprint
	}
	out := make(map[string][]float32, len(docs))
	var missing []item
	for id, text := range docs {
		if v, ok := c.videos[id]; ok {
			out[id] = v
			continue
		}
		missing = append(missing, item{key: id, l2Key: c.l2Key("doc", text), text: text})
	}
	c.mu.Unlock()

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.videoFingerprint == catalogFingerprint {
		for id, v := range fetched {
			c.videos[id] = v
		}
	}
	c.mu.Unlock()

	for id, v := range fetched {
		out[id] = v
	}
	return out, nil
}

// ChunkVectors returns vectors keyed by chunk key. Keys are content hashes, so
// entries never need explicit invalidation.
func (c *Cache) ChunkVectors(ctx context.Context, chunks []domain.Chunk) (map[string][]float32, error) {
	out := make(map[string][]float32, len(chunks))
	var missing []item

	c.mu.Lock()
	seen := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		if _, dup := seen[ch.Key]; dup {
			continue
		}
		seen[ch.Key] = struct{}{}
		if v, ok := c.chunks[ch.Key]; ok {
			out[ch.Key] = v
			continue
		}
		missing = append(missing, item{key: ch.Key, l2Key: c.l2Key("chunk", ch.Text), text: ch.Text})
	}
	c.mu.Unlock()

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for k, v := range fetched {
		c.chunks[k] = v
		out[k] = v
	}
	c.mu.Unlock()
	return out, nil
}

// QueryVector embeds a query, remembering the most recent MaxQueries of them.
func (c *Cache) QueryVector(ctx context.Context, query string) ([]float32, error) {
	c.mu.Lock()
	if v, ok := c.queries[query]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	vecs, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queries[query]; !ok {
		c.queries[query] = vecs[0]
		c.queryOrder = append(c.queryOrder, query)
		for len(c.queryOrder) > c.cfg.MaxQueries {
			delete(c.queries, c.queryOrder[0])
			c.queryOrder = c.queryOrder[1:]
		}
	}
	return vecs[0], nil
}

// Len reports the number of cached video, chunk and query vectors.
func (c *Cache) Len() (videos, chunks, queries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.videos), len(c.chunks), len(c.queries)
}

func (c *Cache) l2Key(kind, text string) string {
	return kind + ":" + TextHash(c.cfg.Model+"\x00"+text)
}

// fetch resolves misses from the second-level store, then embeds the rest in
// batches with at most Concurrency batches in flight.
func (c *Cache) fetch(ctx context.Context, items []item) (map[string][]float32, error) {
	out := make(map[string][]float32, len(items))
	if len(items) == 0 {
		return out, nil
	}

	pending := items
	if c.store != nil {
		keys := make([]string, len(items))
		for i, it := range items {
			keys[i] = it.l2Key
		}
		hits, err := c.store.GetMany(ctx, keys)
		if err != nil {
			log.Printf("vectors: store lookup failed: %v", err)
		}
		pending = pending[:0:0]
		for _, it := range items {
			if v, ok := hits[it.l2Key]; ok && len(v) > 0 {
				out[it.key] = v
				continue
			}
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	fresh := make(map[string][]float32, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for start := 0; start < len(pending); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.text
			}
			vecs, err := c.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
			}
			mu.Lock()
			for i, it := range batch {
				out[it.key] = vecs[i]
				if len(vecs[i]) > 0 {
					fresh[it.l2Key] = vecs[i]
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.PutMany(ctx, fresh); err != nil {
			log.Printf("vectors: store write failed: %v", err)
		}
	}
	return out, nil
}
