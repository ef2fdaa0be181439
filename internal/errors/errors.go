// Package errors provides structured error types for the stacdex system.
// Every error carries a Kind so that the API layer can map failures to
// HTTP statuses and the indexer can decide what is fatal versus recordable.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies errors across the indexer and query engine.
type Kind string

const (
	KindUriNotFound           Kind = "UriNotFound"
	KindSourceUnavailable     Kind = "SourceUnavailable"
	KindItemParsing           Kind = "ItemParsing"
	KindItemValidation        Kind = "ItemValidation"
	KindCollectionParsing     Kind = "CollectionParsing"
	KindUnknownField          Kind = "UnknownField"
	KindUnknownFunction       Kind = "UnknownFunction"
	KindNotAGeometryField     Kind = "NotAGeometryField"
	KindNotATemporalField     Kind = "NotATemporalField"
	KindInvalidQueryParameter Kind = "InvalidQueryParameter"
	KindInvalidToken          Kind = "InvalidToken"
	KindSnapshotConflict      Kind = "SnapshotConflict"
	KindMissingIndex          Kind = "MissingIndex"
	KindUnknown               Kind = "Unknown"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Kind    Kind
	Subtype string
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Subtype != "":
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Subtype, e.Message, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	case e.Subtype != "":
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Subtype, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSubtype returns a copy of the error with the given subtype.
func (e *Error) WithSubtype(subtype string) *Error {
	cp := *e
	cp.Subtype = subtype
	return &cp
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// GetKind extracts the kind from an error chain.
// Returns KindUnknown if the error is not a stacdex Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetSubtype extracts the subtype from an error chain.
func GetSubtype(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subtype
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// HTTPStatus maps an error kind to the HTTP status the API layer emits.
func HTTPStatus(err error) int {
	switch GetKind(err) {
	case KindUnknownField, KindUnknownFunction, KindNotAGeometryField,
		KindNotATemporalField, KindInvalidQueryParameter, KindInvalidToken,
		KindItemParsing:
		return http.StatusBadRequest
	case KindUriNotFound:
		return http.StatusNotFound
	case KindSnapshotConflict:
		return http.StatusConflict
	case KindMissingIndex:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Convenience constructors for common errors.

func NewUriNotFound(uri string) *Error {
	return Newf(KindUriNotFound, "uri not found: %s", uri)
}

func NewSourceUnavailable(uri string, cause error) *Error {
	return Wrap(KindSourceUnavailable, fmt.Sprintf("source unavailable: %s", uri), cause)
}

func NewUnknownField(name string) *Error {
	return Newf(KindUnknownField, "unknown or non-queryable field: %s", name)
}

func NewUnknownFunction(name string) *Error {
	return Newf(KindUnknownFunction, "unknown function: %s", name)
}

func NewInvalidToken(cause error) *Error {
	return Wrap(KindInvalidToken, "pagination token is invalid", cause)
}

func NewSnapshotConflict(tokenLoadID, currentLoadID string) *Error {
	return Newf(KindSnapshotConflict,
		"pagination token was issued for snapshot %s but the current snapshot is %s; drop the token and restart paging",
		tokenLoadID, currentLoadID)
}
