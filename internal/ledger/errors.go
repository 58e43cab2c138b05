package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrBanned            = errors.New("user is banned")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrValidation        = errors.New("validation failed")
	ErrAuthFailure       = errors.New("credentials rejected")
	ErrTransient         = errors.New("temporary provider error")
	ErrBusy              = errors.New("storage busy, try again")
	ErrInternal          = errors.New("internal error")
)

var domainErrors = []error{
	ErrNotFound,
	ErrBanned,
	ErrInsufficientFunds,
	ErrValidation,
	ErrAuthFailure,
	ErrTransient,
	ErrBusy,
	ErrInternal,
}

// ValidationError describes malformed input; it matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CooldownError is returned when a periodic reward is claimed too early.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, %s remaining", e.Remaining.Round(time.Minute))
}

// IsDomain reports whether err belongs to the ledger taxonomy and can be
// shown to a caller as is.
func IsDomain(err error) bool {
	var cd *CooldownError
	if errors.As(err, &cd) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// UserMessage renders err as a short reason suitable for the chat front end.
func UserMessage(err error) string {
	var ve *ValidationError
	var cd *CooldownError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Reason
	case errors.As(err, &cd):
		return fmt.Sprintf("Already claimed. Come back in %s.", formatRemaining(cd.Remaining))
	case errors.Is(err, ErrNotFound):
		return "Not found. Send /start first."
	case errors.Is(err, ErrBanned):
		return "You are banned."
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient balance."
	case errors.Is(err, ErrAuthFailure):
		return "Login failed: the account does not accept these credentials."
	case errors.Is(err, ErrTransient):
		return "The provider is not responding right now. Please try again."
	case errors.Is(err, ErrBusy):
		return "The system is busy. Please try again."
	default:
		return "Something went wrong. Please try again later."
	}
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
