package gateway

import (
	"errors"
	"fmt"
)

// ErrNoAccounts is returned when the gateway lists no trading accounts.
var ErrNoAccounts = errors.New("no accounts available")

// ValidationError is an order or lookup rejected before anything was sent upstream.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConfirmationError means the gateway kept asking questions after the reply cap.
type ConfirmationError struct {
	ReplyID  string
	Attempts int
	Messages []string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("order still awaiting confirmation (reply %s) after %d replies", e.ReplyID, e.Attempts)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrNoAccounts)
}
