package stateerr

import (
	"errors"
	"fmt"
)

// Kind classifies a state-layer failure.
type Kind string

const (
	// KindValidation marks a malformed call: bad arguments, duplicate ids, unknown targets.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindReconciliation marks a pending id that could not be resolved after a create-flush.
	KindReconciliation Kind = "RECONCILIATION_ERROR"
	// KindStoreUnavailable marks a failed backing-store or snapshot-cache call.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	// KindCorruption marks a violated collection post-condition.
	KindCorruption Kind = "CORRUPTION"
)

// Error is a classified state-layer error.
type Error struct {
	Kind    Kind
	UserID  int64
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (user=%d)", e.Op, e.Message, e.UserID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrCorruption) works on any corruption error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrReconciliation   = &Error{Kind: KindReconciliation}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrCorruption       = &Error{Kind: KindCorruption}
)

// Validation creates a validation error.
func Validation(userID int64, op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, UserID: userID, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Reconciliation creates a reconciliation error.
func Reconciliation(userID int64, op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindReconciliation, UserID: userID, Op: op, Message: fmt.Sprintf(format, args...)}
}

// StoreUnavailable wraps a failed store or cache call.
func StoreUnavailable(userID int64, op string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, UserID: userID, Op: op, Message: "store call failed", Err: err}
}

// Corruption creates a corruption error.
func Corruption(userID int64, op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindCorruption, UserID: userID, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a state-layer error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StateError is a sentinel for residency conditions.
type StateError string

func (e StateError) Error() string { return string(e) }

const (
	// ErrNotResident indicates the user has no state in memory; load before mutating.
	ErrNotResident StateError = "user not resident"
	// ErrDirty indicates the user still has unflushed mutations and cannot be evicted.
	ErrDirty StateError = "user has unflushed mutations"
)
