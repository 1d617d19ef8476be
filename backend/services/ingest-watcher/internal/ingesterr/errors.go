// Package ingesterr is the failure taxonomy shared by every pipeline stage.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindClassification
	KindMetadataUnavailable
	KindLookup
	KindPersistence
	KindDispatch
)

func (k Kind) String() string {
	switch k {
	case KindClassification:
		return "classification"
	case KindMetadataUnavailable:
		return "metadata_unavailable"
	case KindLookup:
		return "lookup"
	case KindPersistence:
		return "persistence"
	case KindDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// Error carries the failure kind and a human readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether leaving the marker for a later pass can help.
// Classification failures are parked until an operator intervenes.
func (e *Error) Retryable() bool {
	return e.Kind != KindClassification
}

// New builds an error without a cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap attaches kind and reason to err.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Classification(reason string) *Error { return New(KindClassification, reason) }

func MetadataUnavailable(reason string, err error) *Error {
	return Wrap(KindMetadataUnavailable, reason, err)
}

func Lookup(reason string, err error) *Error { return Wrap(KindLookup, reason, err) }

func Persistence(reason string, err error) *Error { return Wrap(KindPersistence, reason, err) }

func Dispatch(reason string, err error) *Error { return Wrap(KindDispatch, reason, err) }

// KindOf extracts the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Reason returns the taxonomy reason or the plain error text.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsRetryable reports whether err should leave its marker for another pass.
// Errors outside the taxonomy are treated as transient.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return err != nil
}
