package domain

import (
	"errors"
	"fmt"
)

// Session error taxonomy. Every failure a session can hit is one of these.
var (
	// ErrEmptyQuery rejects a query that is empty after trimming.
	ErrEmptyQuery = errors.New("empty query")

	// ErrGenerationFailed covers transport, auth and model-side failures.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrMalformedResponse marks a reply that could not be decoded or validated.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrConcurrentSubmission rejects a submit while another is in flight.
	ErrConcurrentSubmission = errors.New("a submission is already in flight")
)

// GenerationError is returned by the model gateway for any failed call.
// It matches ErrGenerationFailed; the underlying cause is kept for logs only.
type GenerationError struct {
	Model string
	Cause error
}

func (e *GenerationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("generation failed (model %s)", e.Model)
	}
	return fmt.Sprintf("generation failed (model %s): %v", e.Model, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return ErrGenerationFailed
}

// NewGenerationError wraps cause as a GenerationError. An error that is
// already a GenerationError is returned unchanged.
func NewGenerationError(model string, cause error) error {
	var ge *GenerationError
	if errors.As(cause, &ge) {
		return cause
	}
	return &GenerationError{Model: model, Cause: cause}
}

// MalformedError is returned by the parser. It never accompanies a result.
type MalformedError struct {
	Mode   Mode
	Reason string
	Cause  error
}

func (e *MalformedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Mode, e.Reason, e.Cause)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Mode, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedResponse
}

// ErrorKind classifies an error into the session taxonomy.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindEmptyQuery           ErrorKind = "EmptyQuery"
	KindGenerationFailed     ErrorKind = "GenerationFailed"
	KindMalformedResponse    ErrorKind = "MalformedResponse"
	KindConcurrentSubmission ErrorKind = "ConcurrentSubmission"
)

// Classify maps err onto the taxonomy. Errors outside it are reported as
// GenerationFailed, since they can only come from the call path.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrEmptyQuery):
		return KindEmptyQuery
	case errors.Is(err, ErrConcurrentSubmission):
		return KindConcurrentSubmission
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	default:
		return KindGenerationFailed
	}
}
