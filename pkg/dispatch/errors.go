package dispatch

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the stores, dispatchers and the HTTP layer.
// Callers match with errors.Is; the concrete errors wrap these sentinels.
var (
	ErrValidation          = errors.New("validation failed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrExpiredSubscription = errors.New("push subscription expired")
	ErrTransientDelivery   = errors.New("transient delivery failure")
	ErrConfiguration       = errors.New("configuration error")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
