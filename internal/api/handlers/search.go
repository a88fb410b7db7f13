package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/clipfinder/internal/api"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/ranking"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error)
}

type SearchHandler struct {
	svc     SearchService
	logRepo service.SearchLogRepository
}

func NewSearchHandler(svc SearchService, logRepo service.SearchLogRepository) *SearchHandler {
	return &SearchHandler{svc: svc, logRepo: logRepo}
}

type SearchRequest struct {
	Query              string  `json:"query"`
	Category           string  `json:"category,omitempty"`
	Difficulty         string  `json:"difficulty,omitempty"`
	VersionTag         string  `json:"version_tag,omitempty"`
	MaxDurationMinutes float64 `json:"max_duration_minutes,omitempty"`
	Sort               string  `json:"sort,omitempty"`
	Transcription      string  `json:"transcription,omitempty"`
	Refresh            bool    `json:"refresh,omitempty"`
}

type SearchResponse struct {
	*service.SearchOutput
	SearchID string `json:"searchId,omitempty"`
}

type SearchFeedbackRequest struct {
	SearchID string `json:"search_id"`
	VideoID  string `json:"video_id"`
	Seconds  int    `json:"seconds"`
}

// ToInput validates the request and converts it to a service input.
func (req SearchRequest) ToInput() (service.SearchInput, error) {
	sortMode, err := ranking.ParseSortMode(req.Sort)
	if err != nil {
		return service.SearchInput{}, err
	}
	mode, err := service.ParseTranscriptionMode(req.Transcription)
	if err != nil {
		return service.SearchInput{}, err
	}
	if req.MaxDurationMinutes < 0 {
		return service.SearchInput{}, domain.NewDomainError(domain.ErrCodeValidation, "max_duration_minutes cannot be negative")
	}
	return service.SearchInput{
		Query: req.Query,
		Filters: domain.Facets{
			Category:           req.Category,
			Difficulty:         req.Difficulty,
			VersionTag:         req.VersionTag,
			MaxDurationMinutes: req.MaxDurationMinutes,
		},
		Sort:          sortMode,
		Transcription: mode,
		ForceRefresh:  req.Refresh,
	}, nil
}

// Search handles POST /search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input, err := req.ToInput()
	if err != nil {
		api.HandleError(w, err)
		return
	}

	output, err := h.svc.Search(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SearchResponse{SearchOutput: output}
	if h.logRepo != nil && strings.TrimSpace(output.Query) != "" {
		entry := service.NewSearchLogEntry(input, output, int(time.Since(start).Milliseconds()))
		if searchID, err := h.logRepo.CreateSearchLog(r.Context(), entry); err == nil {
			resp.SearchID = searchID
		}
	}

	api.Success(w, http.StatusOK, resp)
}

// SearchFeedback records which clip a learner opened for a prior search.
func (h *SearchHandler) SearchFeedback(w http.ResponseWriter, r *http.Request) {
	if h.logRepo == nil {
		api.Error(w, http.StatusNotImplemented, "search feedback not available")
		return
	}

	var req SearchFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SearchID == "" || req.VideoID == "" {
		api.Error(w, http.StatusBadRequest, "search_id and video_id are required")
		return
	}
	if _, err := uuid.Parse(req.SearchID); err != nil {
		api.Error(w, http.StatusBadRequest, "search_id must be a UUID")
		return
	}
	if err := h.logRepo.RecordSearchSelection(r.Context(), req.SearchID, req.VideoID, req.Seconds); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]any{"status": "ok"})
}
