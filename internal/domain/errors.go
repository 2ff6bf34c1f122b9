package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is
var (
	// ErrEncryption is returned when a crypto primitive fails during encryption
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption is returned when authentication or decryption fails.
	// It signals tampering or a secret rotation mismatch and is fatal for
	// that provider: log and skip, never retry.
	ErrDecryption = errors.New("decryption failed")

	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
)

// ValidationError is malformed or missing caller input. Never retried,
// surfaced as HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NoProviderAvailableError is the designed failure mode of total outage:
// no credential passed filtering and capability checks for a task.
type NoProviderAvailableError struct {
	Task TaskType
}

func (e *NoProviderAvailableError) Error() string {
	return fmt.Sprintf("no provider available for task %q", e.Task)
}

// UnsupportedCapabilityError means a provider lacks a required modality.
// Fatal for that provider; triggers fallback to the next candidate.
type UnsupportedCapabilityError struct {
	Provider   Provider
	Capability Capability
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
}

// ProviderError wraps any vendor transport or API failure so callers can
// apply one fallback policy regardless of which vendor failed.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRateLimited reports whether the underlying failure was a vendor rate limit
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// PersistenceError is a tree or log write failure. Surfaced as 500 and
// never swallowed, since skipping it silently breaks tree invariants.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
