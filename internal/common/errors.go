package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an AppError into the failure taxonomy callers must
// handle explicitly.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeProviderTransient Code = "PROVIDER_TRANSIENT"
	CodeProviderPermanent Code = "PROVIDER_PERMANENT"
	CodeChunkFailure      Code = "CHUNK_FAILURE"
	CodePersistence       Code = "PERSISTENCE"
	CodeMaterialization   Code = "MATERIALIZATION"
	CodeState             Code = "STATE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInternal          Code = "INTERNAL"
)

// AppError represents application-specific errors
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound  = errors.New("resource not found")
	ErrSlugTaken = errors.New("slug already taken")
	ErrQueueFull = errors.New("job queue is full")
)

// Error constructors
func NewAppError(code Code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func ValidationError(message string) error {
	return &AppError{Code: CodeValidation, Message: message}
}

func ValidationErrorf(format string, args ...interface{}) error {
	return ValidationError(fmt.Sprintf(format, args...))
}

func StateError(message string) error {
	return &AppError{Code: CodeState, Message: message}
}

func StateErrorf(format string, args ...interface{}) error {
	return StateError(fmt.Sprintf(format, args...))
}

func NotFoundError(message string) error {
	return &AppError{Code: CodeNotFound, Message: message, Cause: ErrNotFound}
}

func InternalError(message string, cause error) error {
	return &AppError{Code: CodeInternal, Message: message, Cause: cause}
}

// TransientProviderError marks failures worth retrying with backoff
// (timeouts, rate limits, 5xx-equivalent transport failures).
func TransientProviderError(message string, cause error) error {
	return &AppError{Code: CodeProviderTransient, Message: message, Cause: cause}
}

// PermanentProviderError marks responses that will not improve on retry
// (malformed structure after the single malformed-response retry).
func PermanentProviderError(message string, cause error) error {
	return &AppError{Code: CodeProviderPermanent, Message: message, Cause: cause}
}

// ChunkFailure records an exhausted per-chunk extraction against the job.
func ChunkFailure(chunkIndex int, cause error) error {
	return &AppError{
		Code:    CodeChunkFailure,
		Message: fmt.Sprintf("chunk %d failed", chunkIndex),
		Cause:   cause,
	}
}

func PersistenceError(message string, cause error) error {
	return &AppError{Code: CodePersistence, Message: message, Cause: cause}
}

// MaterializationError names the candidate whose entity creation failed.
// The whole batch rolled back; nothing was persisted.
type MaterializationError struct {
	CandidateID   int64
	CandidateName string
	Reason        string
	Cause         error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("%s: materializing candidate %d (%q): %s",
		CodeMaterialization, e.CandidateID, e.CandidateName, e.Reason)
}

func (e *MaterializationError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeProviderTransient
}

// CodeOf extracts the taxonomy code from err, unwrapping as needed.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var me *MaterializationError
	if errors.As(err, &me) {
		return CodeMaterialization
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	return CodeInternal
}

// HTTPStatus maps the taxonomy onto HTTP response codes.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeState, CodeMaterialization:
		return http.StatusConflict
	case CodeProviderTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
