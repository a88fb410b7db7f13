package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/testutil"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]float32), args.Error(1)
}

func (m *MockStore) PutMany(ctx context.Context, vectors map[string][]float32) error {
	args := m.Called(ctx, vectors)
	return args.Error(0)
}

func docs(n int) map[string]string {
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("video-%d", i)] = fmt.Sprintf("document number %d", i)
	}
	return out
}

func TestCosine(t *testing.T) {
	sim, err := Cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = Cosine([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrVectorLengthMismatch)
}

func TestVideoVectors_CachedUntilFingerprintChanges(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	cache := New(embedder, nil, Config{})
	ctx := context.Background()

	vecs, err := cache.VideoVectors(ctx, "fp-1", docs(3))
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, 3, embedder.Texts())

	_, err = cache.VideoVectors(ctx, "fp-1", docs(3))
	require.NoError(t, err)
	assert.Equal(t, 3, embedder.Texts(), "second lookup is served from memory")

	_, err = cache.VideoVectors(ctx, "fp-2", docs(3))
	require.NoError(t, err)
	assert.Equal(t, 6, embedder.Texts(), "catalog change drops every video vector")
}

func TestFetch_BatchesWithBoundedConcurrency(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	embedder.Delay = 20 * time.Millisecond
	cache := New(embedder, nil, Config{BatchSize: 4, Concurrency: 2})

	_, err := cache.VideoVectors(context.Background(), "fp", docs(18))
	require.NoError(t, err)

	sizes := embedder.BatchSizes()
	assert.Len(t, sizes, 5)
	total := 0
	for _, s := range sizes {
		assert.LessOrEqual(t, s, 4)
		total += s
	}
	assert.Equal(t, 18, total)
	assert.LessOrEqual(t, embedder.MaxInFlight(), 2)
}

func TestChunkVectors_KeyedByContent(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	cache := New(embedder, nil, Config{})
	ctx := context.Background()

	chunks := []domain.Chunk{
		{Key: "k1", Text: "open the lexicon"},
		{Key: "k2", Text: "search the notes"},
		{Key: "k1", Text: "open the lexicon"},
	}
	vecs, err := cache.ChunkVectors(ctx, chunks)
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, embedder.Texts())

	_, err = cache.ChunkVectors(ctx, append(chunks, domain.Chunk{Key: "k3", Text: "new passage"}))
	require.NoError(t, err)
	assert.Equal(t, 3, embedder.Texts())

	videos, cached, _ := cache.Len()
	assert.Zero(t, videos)
	assert.Equal(t, 3, cached)
}

func TestQueryVector_Bounded(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	cache := New(embedder, nil, Config{MaxQueries: 2})
	ctx := context.Background()

	for _, q := range []string{"a", "b", "a", "c"} {
		_, err := cache.QueryVector(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, embedder.Calls())

	_, _, queries := cache.Len()
	assert.Equal(t, 2, queries)

	_, err := cache.QueryVector(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4, embedder.Calls(), "oldest query was evicted")
}

func TestFetch_PropagatesEmbedderError(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	embedder.Err = errors.New("provider down")
	cache := New(embedder, nil, Config{})

	_, err := cache.VideoVectors(context.Background(), "fp", docs(2))
	assert.Error(t, err)

	_, err = cache.QueryVector(context.Background(), "q")
	assert.Error(t, err)
}

func TestFetch_UsesSecondLevelStore(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	store := new(MockStore)
	cache := New(embedder, store, Config{Model: "test-model"})
	ctx := context.Background()

	cachedKey := cache.l2Key("chunk", "already stored")
	store.On("GetMany", ctx, mock.Anything).Return(map[string][]float32{cachedKey: {1, 2, 3}}, nil)
	store.On("PutMany", ctx, mock.MatchedBy(func(v map[string][]float32) bool {
		_, ok := v[cache.l2Key("chunk", "needs embedding")]
		return len(v) == 1 && ok
	})).Return(nil)

	vecs, err := cache.ChunkVectors(ctx, []domain.Chunk{
		{Key: "stored", Text: "already stored"},
		{Key: "fresh", Text: "needs embedding"},
	})
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 2, 3}, vecs["stored"])
	assert.Len(t, vecs["fresh"], 64)
	assert.Equal(t, 1, embedder.Texts())
	store.AssertExpectations(t)
}

func TestFetch_BlankTextsNeverReachTheStore(t *testing.T) {
	store := new(MockStore)
	cache := New(testutil.NewFakeEmbedder(), store, Config{})
	ctx := context.Background()

	store.On("GetMany", ctx, mock.Anything).Return(map[string][]float32{}, nil)
	store.On("PutMany", ctx, mock.MatchedBy(func(v map[string][]float32) bool {
		_, ok := v[cache.l2Key("chunk", "spoken words")]
		return len(v) == 1 && ok
	})).Return(nil)

	vecs, err := cache.ChunkVectors(ctx, []domain.Chunk{
		{Key: "blank", Text: "   "},
		{Key: "spoken", Text: "spoken words"},
	})
	require.NoError(t, err)
	assert.Empty(t, vecs["blank"])
	assert.Len(t, vecs["spoken"], 64)
	store.AssertExpectations(t)
}

func TestFetch_StoreErrorsAreIgnored(t *testing.T) {
	embedder := testutil.NewFakeEmbedder()
	store := new(MockStore)
	cache := New(embedder, store, Config{})
	ctx := context.Background()

	store.On("GetMany", ctx, mock.Anything).Return(nil, errors.New("db down"))
	store.On("PutMany", ctx, mock.Anything).Return(errors.New("db down"))

	vecs, err := cache.ChunkVectors(ctx, []domain.Chunk{{Key: "k", Text: "text"}})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestL2Key_NamespacedByModel(t *testing.T) {
	a := New(nil, nil, Config{Model: "small"})
	b := New(nil, nil, Config{Model: "large"})
	assert.NotEqual(t, a.l2Key("doc", "same"), b.l2Key("doc", "same"))
	assert.NotEqual(t, a.l2Key("doc", "same"), a.l2Key("chunk", "same"))
}
