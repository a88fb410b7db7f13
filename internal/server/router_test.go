package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/api/handlers"
	"github.com/cloo-solutions/clipfinder/internal/api/middleware"
	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/chunker"
	"github.com/cloo-solutions/clipfinder/internal/ranking"
	"github.com/cloo-solutions/clipfinder/internal/service"
	"github.com/cloo-solutions/clipfinder/internal/testutil"
	"github.com/cloo-solutions/clipfinder/internal/vectorcache"
)

type fixedProber map[string]float64

func (p fixedProber) Duration(_ context.Context, path string) (float64, error) {
	return p[filepath.Base(path)], nil
}

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	media := t.TempDir()
	files := map[string]string{
		"Greek_Word_Study_Basics.mp4":     "video-a",
		"Greek_Word_Study_Basics.txt":     "in this lesson we open a word study on a greek term",
		"Printing_Layout_Options.mp4":     "video-b",
		"Hebrew_Word_Study_Deep_Dive.mp4": "video-c",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(media, name), []byte(content), 0o644))
	}

	store := catalog.NewStore(catalog.Options{
		MediaDir:      media,
		PublicBaseURL: "http://localhost:8080",
		Prober: fixedProber{
			"Greek_Word_Study_Basics.mp4":     300,
			"Printing_Layout_Options.mp4":     420,
			"Hebrew_Word_Study_Deep_Dive.mp4": 3600,
		},
	})
	cache := vectorcache.New(testutil.NewFakeEmbedder(), nil, vectorcache.Config{})
	ranker := ranking.NewRanker(cache, ranking.DefaultWeights(), chunker.DefaultConfig())
	svc := service.NewSearchService(store, ranker, nil, nil, nil, service.Options{Staleness: time.Minute})

	router := NewRouter(RouterConfig{
		SearchHandler: handlers.NewSearchHandler(svc, nil),
		VideoHandler:  handlers.NewVideoHandler(svc),
		RateLimiter:   middleware.NewRateLimiter(0, 0),
		MediaDir:      media,
	})
	return router, media
}

func decodeData(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Data
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_SearchEndToEnd(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(handlers.SearchRequest{Query: "word study", MaxDurationMinutes: 10})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decodeData(t, w.Body.Bytes())
	results := data["results"].([]any)
	require.NotEmpty(t, results)

	top := results[0].(map[string]any)
	assert.Equal(t, "greek-word-study-basics", top["videoId"])
	assert.Equal(t, "ready", top["transcriptStatus"])
	assert.Contains(t, top["url"], "/media/Greek_Word_Study_Basics.mp4#t=")
	for _, r := range results {
		assert.NotEqual(t, "hebrew-word-study-deep-dive", r.(map[string]any)["videoId"])
	}
	assert.NotNil(t, data["confidence"])
}

func TestRouter_VideosAndTranscript(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/videos?max_duration_minutes=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	videos := decodeData(t, w.Body.Bytes())["videos"].([]any)
	assert.Len(t, videos, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/videos/greek-word-study-basics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "word study on a greek term")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/videos/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/videos/printing-layout-options/transcript", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/videos/greek-word-study-basics/transcript", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CatalogRefresh(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/catalog/refresh?force=true", nil))

	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeData(t, w.Body.Bytes())["stats"].(map[string]any)
	assert.Equal(t, float64(3), stats["total"])
	assert.Equal(t, float64(1), stats["ready"])
}

func TestRouter_ServesMediaButNotIndex(t *testing.T) {
	router, media := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/Printing_Layout_Options.mp4", nil))
	require.Equal(t, http.StatusOK, w.Code)
	b, _ := io.ReadAll(w.Body)
	assert.Equal(t, "video-b", string(b))

	require.NoError(t, os.MkdirAll(filepath.Join(media, ".clipfinder"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(media, ".clipfinder", "index.json"), []byte("{}"), 0o644))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media/.clipfinder/index.json", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RateLimited(t *testing.T) {
	limited := NewRouter(RouterConfig{
		SearchHandler: handlers.NewSearchHandler(nil, nil),
		VideoHandler:  handlers.NewVideoHandler(nil),
		RateLimiter:   middleware.NewRateLimiter(0.001, 1),
	})

	codes := []int{}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString("{bad")))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestHiddenPath(t *testing.T) {
	assert.True(t, hiddenPath("/media/.clipfinder/index.json"))
	assert.True(t, hiddenPath("/media/a/../.env"))
	assert.False(t, hiddenPath("/media/greek/01_intro.mp4"))
}
