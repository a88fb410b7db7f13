package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/clipfinder/internal/api"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

const (
	maxTranscriptWait = 10 * time.Minute
	maxListLimit      = 500
)

type VideoService interface {
	ListVideos(ctx context.Context, q service.ListQuery) (*service.VideoList, error)
	Video(ctx context.Context, id string) (domain.VideoRecord, error)
	EnsureTranscript(ctx context.Context, id string) (domain.VideoRecord, error)
	StartTranscript(ctx context.Context, id string) (domain.VideoRecord, bool, error)
	Refresh(ctx context.Context, force bool) (*service.RefreshOutput, error)
}

type VideoHandler struct {
	svc VideoService
}

func NewVideoHandler(svc VideoService) *VideoHandler {
	return &VideoHandler{svc: svc}
}

type TranscriptResponse struct {
	Video   domain.VideoRecord `json:"video"`
	Ready   bool               `json:"ready"`
	Started bool               `json:"started"`
}

// List handles GET /videos.
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	facets := domain.Facets{
		Category:   q.Get("category"),
		Difficulty: q.Get("difficulty"),
		VersionTag: q.Get("version_tag"),
	}
	if raw := q.Get("max_duration_minutes"); raw != "" {
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil || minutes < 0 {
			api.Error(w, http.StatusBadRequest, "invalid max_duration_minutes")
			return
		}
		facets.MaxDurationMinutes = minutes
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxListLimit {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	out, err := h.svc.ListVideos(r.Context(), service.ListQuery{
		Facets: facets,
		Cursor: q.Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, out)
}

// Get handles GET /videos/{id}.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	video, err := h.svc.Video(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, video)
}

// EnsureTranscript handles POST /videos/{id}/transcript. By default it waits for the
// transcript; wait=false only starts ingestion. A wait that ends before the
// transcript is ready answers 202 and ingestion continues.
func (h *VideoHandler) EnsureTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	if wait, err := strconv.ParseBool(q.Get("wait")); err == nil && !wait {
		video, started, err := h.svc.StartTranscript(r.Context(), id)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		status := http.StatusAccepted
		if video.IsReady() {
			status = http.StatusOK
		}
		api.Success(w, status, TranscriptResponse{Video: video, Ready: video.IsReady(), Started: started})
		return
	}

	timeout := maxTranscriptWait
	if raw := q.Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = min(parsed, maxTranscriptWait)
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	video, err := h.svc.EnsureTranscript(ctx, id)
	if errors.Is(err, domain.ErrTranscriptNotReady) {
		api.Success(w, http.StatusAccepted, TranscriptResponse{Video: video, Started: true})
		return
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, TranscriptResponse{Video: video, Ready: true})
}

// Refresh handles POST /catalog/refresh.
func (h *VideoHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	out, err := h.svc.Refresh(r.Context(), force)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, out)
}
