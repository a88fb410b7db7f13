package server

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/clipfinder/internal/api"
	"github.com/cloo-solutions/clipfinder/internal/api/handlers"
	"github.com/cloo-solutions/clipfinder/internal/api/middleware"
)

type RouterConfig struct {
	SearchHandler *handlers.SearchHandler
	VideoHandler  *handlers.VideoHandler
	RateLimiter   *middleware.RateLimiter
	// MediaDir is served under /media/ so playback URLs resolve. Empty disables it.
	MediaDir string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(cfg.RateLimiter.Middleware)

		r.Post("/search", cfg.SearchHandler.Search)
		r.Post("/search/feedback", cfg.SearchHandler.SearchFeedback)

		r.Route("/videos", func(r chi.Router) {
			r.Get("/", cfg.VideoHandler.List)
			r.Get("/{id}", cfg.VideoHandler.Get)
			r.Post("/{id}/transcript", cfg.VideoHandler.EnsureTranscript)
		})

		r.Post("/catalog/refresh", cfg.VideoHandler.Refresh)
	})

	if cfg.MediaDir != "" {
		files := http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir)))
		r.Get("/media/*", func(w http.ResponseWriter, r *http.Request) {
			if hiddenPath(r.URL.Path) {
				api.Error(w, http.StatusNotFound, "not found")
				return
			}
			files.ServeHTTP(w, r)
		})
	}

	return r
}

// hiddenPath reports whether any element of p starts with a dot, which covers the
// catalog's own index directory.
func hiddenPath(p string) bool {
	for _, part := range strings.Split(path.Clean("/"+p), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
