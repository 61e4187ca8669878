package engine

import (
	"fmt"
	"strings"
)

// ErrorKind is the error taxonomy from SPEC_FULL §7. These are kinds,
// not separate Go error types, so callers can type-switch on Kind()
// without a chain of errors.As checks.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindProvider
	KindClientDisconnected
	KindBilling
)

// CoreError is the error type every stage handler and adapter returns.
type CoreError struct {
	kind    ErrorKind
	message string
}

func (e *CoreError) Error() string {
	switch e.kind {
	case KindValidation:
		return fmt.Sprintf("validation failed: %s", e.message)
	case KindClientDisconnected:
		return "client disconnected"
	case KindBilling:
		return fmt.Sprintf("billing failed: %s", e.message)
	default:
		return e.message
	}
}

func (e *CoreError) Kind() ErrorKind { return e.kind }

// Overloaded reports whether this is the one retryable signal spec.md
// names: a provider error whose message carries the
// "provider overloaded:" prefix.
func (e *CoreError) Overloaded() bool {
	return e.kind == KindProvider && strings.HasPrefix(e.message, "provider overloaded:")
}

func ValidationError(format string, args ...any) *CoreError {
	return &CoreError{kind: KindValidation, message: fmt.Sprintf(format, args...)}
}

func ProviderError(format string, args ...any) *CoreError {
	return &CoreError{kind: KindProvider, message: fmt.Sprintf(format, args...)}
}

func ClientDisconnectedError() *CoreError {
	return &CoreError{kind: KindClientDisconnected}
}

func BillingError(format string, args ...any) *CoreError {
	return &CoreError{kind: KindBilling, message: fmt.Sprintf(format, args...)}
}
