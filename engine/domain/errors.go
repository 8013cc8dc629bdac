package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for external collaborators. Handlers map these to
// HTTP statuses; components wrap them with context via fmt.Errorf and %w.
var (
	// Object store.
	ErrNotFound  = errors.New("object not found")
	ErrAccess    = errors.New("access denied")
	ErrTransient = errors.New("transient failure")

	// Generative model output.
	ErrModelOutput    = errors.New("model output did not match schema")
	ErrClassification = errors.New("classification outside input set")

	// Vector store.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	ErrStore            = errors.New("vector store rejected request")
	ErrSchemaMismatch   = errors.New("vector dimensionality mismatch")

	// RAG precondition.
	ErrStandardsUnavailable = errors.New("cost standards document unavailable")

	// Credential check.
	ErrAuth = errors.New("unauthorized")
)

// Retryable reports whether err is eligible for a single bounded retry
// at the component boundary. Schema and validation errors are not:
// retrying the same prompt reproduces the failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrStoreUnavailable)
}

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }
