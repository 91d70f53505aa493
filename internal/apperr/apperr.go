// Package apperr holds the error taxonomy shared by the domain packages
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind is the machine-readable class of an error.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindNotFound      Kind = "not_found"
	KindExpired       Kind = "expired"
	KindInvalidOption Kind = "invalid_option"
	KindDuplicateVote Kind = "duplicate_vote"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindStore         Kind = "store_error"
)

// Error is a classified error. Fields carries per-field reasons for
// validation failures.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrExpired       = &Error{Kind: KindExpired}
	ErrInvalidOption = &Error{Kind: KindInvalidOption}
	ErrDuplicateVote = &Error{Kind: KindDuplicateVote}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrStore         = &Error{Kind: KindStore}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation builds a validation error from field reasons.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "Invalid data", Fields: fields}
}

// Store wraps a persistence failure. The message is what callers see; the
// wrapped error is for logs only.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Message: op, Err: err}
}

// KindOf classifies err; anything unclassified is a store error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// IsUniqueViolation reports whether err came from a unique constraint.
// Dialects that translate errors return gorm.ErrDuplicatedKey; the string
// checks cover drivers that do not.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
