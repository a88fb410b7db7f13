package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError with the same code and message, so wrapped
// copies created by WithCause still satisfy errors.Is against the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithCause returns a copy of the error carrying cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: cause}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeSourceUnavailable   = "SOURCE_UNAVAILABLE"
	ErrCodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeNotReady            = "NOT_READY"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuery            = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrInvalidSortMode       = NewDomainError(ErrCodeValidation, "invalid sort mode")
	ErrInvalidTranscribeMode = NewDomainError(ErrCodeValidation, "invalid transcription mode")
	ErrInvalidCursor         = NewDomainError(ErrCodeValidation, "invalid cursor")
)

// Catalog errors
var (
	ErrVideoNotFound     = NewDomainError(ErrCodeNotFound, "video not found")
	ErrSourceUnavailable = NewDomainError(ErrCodeSourceUnavailable, "video source file is unavailable")
	ErrSearchNotFound    = NewDomainError(ErrCodeNotFound, "search not found")
)

// Ingestion and retrieval errors
var (
	ErrTranscriptionFailed  = NewDomainError(ErrCodeTranscriptionFailed, "transcription failed")
	ErrAudioTooLarge        = NewDomainError(ErrCodeTranscriptionFailed, "audio chunk exceeds size ceiling")
	ErrTranscriptNotReady   = NewDomainError(ErrCodeNotReady, "transcript not ready yet")
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeUpstreamUnavailable, "embedding provider unavailable")
	ErrIngestionDisabled    = NewDomainError(ErrCodeUpstreamUnavailable, "transcription is not configured")
)

// IsRetryable reports whether an ingestion failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return true
	}
	switch de.Code {
	case ErrCodeSourceUnavailable, ErrCodeNotFound, ErrCodeValidation:
		return false
	}
	return true
}
