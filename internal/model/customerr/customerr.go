package customerr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	UserNotFound        Kind = "user_not_found"
	NotFound            Kind = "not_found"
	MissingField        Kind = "missing_field"
	ChargeMismatch      Kind = "charge_mismatch"
	InsufficientBalance Kind = "insufficient_balance"
	UploadRejected      Kind = "upload_rejected"
	ConcurrencyConflict Kind = "concurrency_conflict"
	PersistenceFailure  Kind = "persistence_failure"
	AlreadyExists       Kind = "already_exists"
	Unauthorized        Kind = "unauthorized"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying failure.
func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Reason returns the client-facing reason, falling back to err.Error().
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// IsRetryable reports whether the orchestrator may retry the operation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ConcurrencyConflict, PersistenceFailure:
		return true
	}
	return false
}

// IsClientError reports whether the caller can fix the request and resubmit.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case MissingField, ChargeMismatch, InsufficientBalance, UploadRejected, AlreadyExists:
		return true
	}
	return false
}
