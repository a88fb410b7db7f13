package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSuccess_WrapsDataEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Success(w, http.StatusOK, map[string]any{"videoId": "greek-word-study-basics", "seconds": 65})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"videoId":"greek-word-study-basics","seconds":65}}`, w.Body.String())
}

func TestJSON_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestError_PlainMessage(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusRequestEntityTooLarge, "request body exceeds 1048576 bytes")

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "request body exceeds 1048576 bytes", body.Error)
	assert.Empty(t, body.Code)
}

func TestDomainErrorToHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"bad sort mode", domain.NewDomainError(domain.ErrCodeValidation, "unknown sort mode"), http.StatusBadRequest},
		{"unknown video", domain.ErrVideoNotFound, http.StatusNotFound},
		{"wrapped unknown video", fmt.Errorf("lookup: %w", domain.ErrVideoNotFound), http.StatusNotFound},
		{"file removed", domain.ErrSourceUnavailable, http.StatusGone},
		{"transcript pending", domain.ErrTranscriptNotReady, http.StatusConflict},
		{"oversized audio", domain.ErrAudioTooLarge.WithCause(assert.AnError), http.StatusBadGateway},
		{"embeddings down", domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable},
		{"internal", domain.NewDomainError(domain.ErrCodeInternalError, "index write failed"), http.StatusInternalServerError},
		{"unmapped code", domain.NewDomainError("SOMETHING_ELSE", "?"), http.StatusInternalServerError},
		{"plain error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DomainErrorToHTTP(tt.err))
		})
	}
}

func TestHandleError_DomainError(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, fmt.Errorf("get video: %w", domain.ErrVideoNotFound))

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	assert.Contains(t, body.Error, "not found")
	assert.Equal(t, domain.ErrCodeNotFound, body.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestHandleError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, fmt.Errorf("dial tcp 10.0.0.3:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "internal error", body.Error)
	assert.Empty(t, body.Code)
}

func TestHandleError_RetryAfter(t *testing.T) {
	tests := []struct {
		err        error
		status     int
		retryAfter string
	}{
		{domain.ErrTranscriptNotReady, http.StatusConflict, "5"},
		{fmt.Errorf("embed query: %w", domain.ErrEmbeddingUnavailable), http.StatusServiceUnavailable, "30"},
		{domain.ErrSourceUnavailable, http.StatusGone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
		})
	}
}
