// Package errs defines the error kinds surfaced to the agent, per spec.md
// §7. Handlers return one of these (or a wrapped one) and the dispatcher
// serializes it into the {success: false, error, details} envelope.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable, wire-visible error classification.
type Kind string

const (
	KindConfigError         Kind = "ConfigError"
	KindAuthFailed          Kind = "AuthFailed"
	KindNetworkUnreachable  Kind = "NetworkUnreachable"
	KindHostKeyMismatch     Kind = "HostKeyMismatch"
	KindConnectTimeout      Kind = "ConnectTimeout"
	KindNotFound            Kind = "NotFound"
	KindMaxSessionsReached  Kind = "MaxSessionsReached"
	KindBusySession         Kind = "BusySession"
	KindDenied              Kind = "Denied"
	KindPasswordRequired    Kind = "PasswordRequired"
	KindSessionBroken       Kind = "SessionBroken"
	KindTransferPathDenied  Kind = "TransferError.path_denied"
	KindTransferReadFailed  Kind = "TransferError.read_failed"
	KindTransferWriteFailed Kind = "TransferError.write_failed"
	KindTransferTooLarge    Kind = "TransferError.too_large"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindInternal            Kind = "Internal"
)

// Error is the structured error type every layer above the raw SSH
// transport should return instead of an ad hoc fmt.Errorf.
type Error struct {
	Kind    Kind
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Details == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, details string) *Error {
	return &Error{Kind: kind, Details: details}
}

// Wrap builds an *Error carrying an underlying cause; Details defaults to
// cause.Error() when empty.
func Wrap(kind Kind, cause error, details string) *Error {
	if details == "" && cause != nil {
		details = cause.Error()
	}
	return &Error{Kind: kind, Details: details, Cause: cause}
}

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classified Kind of err, defaulting to KindInternal for
// anything not already an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
