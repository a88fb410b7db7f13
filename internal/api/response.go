package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the body of every non-2xx response. Code is set for domain
// errors only.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:          http.StatusBadRequest,
	domain.ErrCodeNotFound:            http.StatusNotFound,
	domain.ErrCodeSourceUnavailable:   http.StatusGone,
	domain.ErrCodeNotReady:            http.StatusConflict,
	domain.ErrCodeTranscriptionFailed: http.StatusBadGateway,
	domain.ErrCodeUpstreamUnavailable: http.StatusServiceUnavailable,
	domain.ErrCodeInternalError:       http.StatusInternalServerError,
}

// retryAfter is sent with codes a client can simply retry later.
var retryAfter = map[string]int{
	domain.ErrCodeNotReady:            5,
	domain.ErrCodeUpstreamUnavailable: 30,
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// Success writes data inside the {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps an error, wrapped or not, to its HTTP status. Anything
// that is not a domain error is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[domainErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes the error response for err. Domain errors keep their message
// and code; other errors are logged and reported as "internal error".
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		log.Printf("api: unhandled error: %v", err)
		Error(w, status, "internal error")
		return
	}

	if secs, ok := retryAfter[domainErr.Code]; ok {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: domainErr.Code})
}
