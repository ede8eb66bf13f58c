package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers classify with
// errors.Is and must never parse message text.
var (
	// ErrInvalidRequest marks a client fault. Never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreUnavailable signals the knowledge index cannot be reached.
	// Retrieval callers degrade to an ungrounded answer instead of failing.
	ErrStoreUnavailable = errors.New("knowledge store unavailable")

	// ErrGenerationFailed is surfaced after every configured credential has
	// been tried and the model still did not answer.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSynthesisUnavailable signals the speech provider is unreachable.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")

	// ErrAuthRequired signals the speech provider rejected our credentials.
	ErrAuthRequired = errors.New("speech synthesis auth required")

	// ErrEmbeddingUnavailable signals the embedding provider failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrNotFound marks a lookup miss (exhibit code, visitor record).
	ErrNotFound = errors.New("not found")
)

// Specific validation failures. Each wraps ErrInvalidRequest so callers can
// match either the precise cause or the whole class.
var (
	ErrQuestionEmpty   = fmt.Errorf("%w: question empty", ErrInvalidRequest)
	ErrQuestionTooLong = fmt.Errorf("%w: question too long", ErrInvalidRequest)
	ErrInvalidRole     = fmt.Errorf("%w: invalid conversation role", ErrInvalidRequest)
	ErrInvalidExhibit  = fmt.Errorf("%w: invalid exhibit id", ErrInvalidRequest)
	ErrTextEmpty       = fmt.Errorf("%w: text empty", ErrInvalidRequest)
	ErrTextTooLong     = fmt.Errorf("%w: text too long", ErrInvalidRequest)
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
