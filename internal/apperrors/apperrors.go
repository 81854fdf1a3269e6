package apperrors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the link store and service layer. Handlers map
// these to transport responses at the outermost boundary; nothing below the
// handlers speaks HTTP.

// ErrNotFound is returned when a tracking link does not exist.
var ErrNotFound = errors.New("tracking link not found")

// ErrDuplicate is returned when a uniqueness constraint (code or associated
// content id) would be violated.
var ErrDuplicate = errors.New("tracking link already exists")

// ErrCodeGenerationFailed is returned when no unique code could be generated
// after the maximum number of attempts.
var ErrCodeGenerationFailed = errors.New("failed to generate unique tracking code")

// ErrQRUnavailable is returned when neither local encoding nor the remote
// fallback could produce a QR artifact.
var ErrQRUnavailable = errors.New("qr image unavailable")

// ValidationError reports bad admin input tied to a specific field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrValidation is the sentinel all ValidationErrors match via errors.Is,
// so callers can classify without caring about the field.
var ErrValidation = errors.New("validation failed")

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation builds a field-level validation error.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DestinationUnreachableError reports a failed pre-save reachability probe.
type DestinationUnreachableError struct {
	URL    string
	Reason string
}

func (e *DestinationUnreachableError) Error() string {
	return fmt.Sprintf("destination %s unreachable: %s", e.URL, e.Reason)
}

func (e *DestinationUnreachableError) Is(target error) bool { return target == ErrValidation }
