package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Quarry error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrConflict           ErrorCode = "CONFLICT"             // 409
	ErrTrainingInProgress ErrorCode = "TRAINING_IN_PROGRESS" // 409
	ErrPayloadTooLarge    ErrorCode = "PAYLOAD_TOO_LARGE"    // 413
	ErrUnsupportedSource  ErrorCode = "UNSUPPORTED_SOURCE"   // 422
	ErrCancelled          ErrorCode = "CANCELLED"            // 499
	ErrInternal           ErrorCode = "INTERNAL"             // 500
	ErrSourceFetchFailed  ErrorCode = "SOURCE_FETCH_FAILED"  // 502
)

// QuarryError represents a structured error with code, status, and details.
type QuarryError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *QuarryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *QuarryError {
	return &QuarryError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing entity.
// kind is the entity name ("project", "source", "file").
func NewNotFound(kind, identifier string) *QuarryError {
	return &QuarryError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file on disk.
func NewFileNotFound(path string) *QuarryError {
	return &QuarryError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *QuarryError {
	return &QuarryError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewTrainingInProgress creates a 409 error when a training run is already in flight.
func NewTrainingInProgress(projectID string) *QuarryError {
	return &QuarryError{
		Code:    ErrTrainingInProgress,
		Status:  409,
		Message: "sources are already being processed",
		Details: map[string]any{"project_id": projectID},
	}
}

// NewPayloadTooLarge creates a 413 error when content exceeds the configured limit.
func NewPayloadTooLarge(path string, max, actual int) *QuarryError {
	return &QuarryError{
		Code:    ErrPayloadTooLarge,
		Status:  413,
		Message: fmt.Sprintf("%s exceeds maximum size: %d chars (max %d)", path, actual, max),
		Details: map[string]any{"path": path, "max_chars": max, "actual_chars": actual},
	}
}

// NewUnsupportedSource creates a 422 error for an unknown source type.
func NewUnsupportedSource(sourceType string) *QuarryError {
	return &QuarryError{
		Code:    ErrUnsupportedSource,
		Status:  422,
		Message: fmt.Sprintf("unsupported source type: %q", sourceType),
		Details: map[string]any{"type": sourceType},
	}
}

// NewSourceFetchFailed creates a 502 error when a remote source cannot be read.
func NewSourceFetchFailed(label string, err error) *QuarryError {
	msg := fmt.Sprintf("failed to fetch %s", label)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &QuarryError{
		Code:    ErrSourceFetchFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"source": label},
	}
}

// NewCancelled creates a 499 error for an operation stopped by its caller.
func NewCancelled(operation string) *QuarryError {
	return &QuarryError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *QuarryError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &QuarryError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// As extracts a QuarryError from err, unwrapping as needed.
func As(err error) (*QuarryError, bool) {
	var qErr *QuarryError
	if stderrors.As(err, &qErr) {
		return qErr, true
	}
	return nil, false
}

// Is checks if an error is a QuarryError with the given code.
func Is(err error, code ErrorCode) bool {
	if qErr, ok := As(err); ok {
		return qErr.Code == code
	}
	return false
}

// Message returns the user-facing message for err.
// QuarryErrors yield their Message; other errors their Error string.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if qErr, ok := As(err); ok {
		return qErr.Message
	}
	return err.Error()
}
