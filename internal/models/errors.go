package models

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check them.
var (
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("version conflict")
	ErrRetriesExhausted = errors.New("conflict retries exhausted")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("enhancement unavailable")
	ErrTimeout          = errors.New("enhancement deadline exceeded")
	ErrStale            = errors.New("prediction is stale")
	ErrCacheCorruption  = errors.New("cache entry corrupted")
	// ErrCachedFailure marks a failure replayed from a cache or shared with another caller
	// rather than observed by this call. Circuit breakers do not count it.
	ErrCachedFailure = errors.New("cached failure")
)

// ValidationError reports a rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsEnhancementFailure reports whether err is one of the enhancement failures that callers
// treat as "fall back to the deterministic path".
func IsEnhancementFailure(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrStale)
}
