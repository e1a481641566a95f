package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes an error surfaced by the core.
type ErrorType string

const (
	// ErrorTypeNotFound indicates a pipeline, stage or membership is absent.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeInvalidTransition indicates the target stage does not belong
	// to the membership's pipeline.
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"

	// ErrorTypeImmutablePipeline indicates a structural mutation was
	// attempted on a main pipeline.
	ErrorTypeImmutablePipeline ErrorType = "immutable_pipeline"

	// ErrorTypeStageInUse indicates a stage delete was blocked because
	// memberships still point at it.
	ErrorTypeStageInUse ErrorType = "stage_in_use"

	// ErrorTypeConcurrencyConflict indicates a compare-and-swap update lost
	// a race and nothing was written.
	ErrorTypeConcurrencyConflict ErrorType = "concurrency_conflict"

	// ErrorTypeInvalidArgument indicates a malformed request.
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"

	// ErrorTypeStorage indicates a storage-layer failure; the unit of work
	// was rolled back.
	ErrorTypeStorage ErrorType = "storage"

	// ErrorTypeCacheUnavailable indicates a cache-layer failure. It is
	// absorbed on the read path and never fatal.
	ErrorTypeCacheUnavailable ErrorType = "cache_unavailable"
)

// Error is the canonical typed error returned by the core components.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	// Wrapped holds the underlying cause, if any. Not serialized; storage
	// details stay server-side.
	Wrapped error `json:"-"`
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// HTTPStatusCode maps the error type to a status code for the REST layer.
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidTransition:
		return http.StatusUnprocessableEntity
	case ErrorTypeImmutablePipeline:
		return http.StatusForbidden
	case ErrorTypeStageInUse, ErrorTypeConcurrencyConflict:
		return http.StatusConflict
	case ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Expected reports whether the error is a routine user-facing condition
// that should not be logged at error level.
func (e *Error) Expected() bool {
	switch e.Type {
	case ErrorTypeNotFound, ErrorTypeInvalidTransition, ErrorTypeImmutablePipeline,
		ErrorTypeStageInUse, ErrorTypeConcurrencyConflict, ErrorTypeInvalidArgument:
		return true
	}
	return false
}

// NewError creates a typed error.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// ErrNotFound creates a not-found error for the named entity.
func ErrNotFound(entity, id string) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// ErrInvalidTransition creates an invalid-transition error.
func ErrInvalidTransition(message string) *Error {
	return &Error{Type: ErrorTypeInvalidTransition, Message: message}
}

// ErrImmutablePipeline creates an immutable-pipeline error.
func ErrImmutablePipeline(name string) *Error {
	return &Error{
		Type:    ErrorTypeImmutablePipeline,
		Message: fmt.Sprintf("pipeline %q is system-defined and cannot be modified", name),
	}
}

// ErrStageInUse creates a stage-in-use error.
func ErrStageInUse(stageID string, members int) *Error {
	return &Error{
		Type:    ErrorTypeStageInUse,
		Message: fmt.Sprintf("stage %s still has %d contacts; move or remove them first", stageID, members),
	}
}

// ErrConcurrencyConflict creates a concurrency-conflict error.
func ErrConcurrencyConflict(membershipID string) *Error {
	return &Error{
		Type:    ErrorTypeConcurrencyConflict,
		Message: fmt.Sprintf("membership %s was modified concurrently", membershipID),
	}
}

// ErrInvalidArgument creates an invalid-argument error.
func ErrInvalidArgument(message string) *Error {
	return &Error{Type: ErrorTypeInvalidArgument, Message: message}
}

// ErrStorage wraps a storage-layer failure.
func ErrStorage(op string, err error) *Error {
	return &Error{Type: ErrorTypeStorage, Message: op + " failed", Wrapped: err}
}

// IsType reports whether err is a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// AsError extracts the typed error from err, wrapping unknown errors as
// storage failures so callers always see the taxonomy.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrStorage("operation", err)
}
