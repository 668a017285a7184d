// Package apierror provides the error taxonomy shared by stores, services and
// handlers, plus the envelope every 4xx/5xx response is rendered with.
// Handlers only ever serialize these types, so raw store errors (SQL text,
// driver messages) never reach a client.
package apierror

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func InvalidState(msg string) *Error { return &Error{Kind: KindInvalidState, Message: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// Transient wraps an I/O or timeout failure that is safe to retry.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReconciliationWarning reports a non-fatal mismatch between a client hint
// and the server-computed amount. The operation proceeds with Server.
type ReconciliationWarning struct {
	Field  string `json:"field"`
	Client string `json:"client"`
	Server string `json:"server"`
}

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string            `json:"detail"`
	Kind   Kind              `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// NewValidation wraps multiple field errors.
func NewValidation(fields map[string]string) *APIError {
	return &APIError{Detail: "validation failed", Kind: KindValidation, Fields: fields}
}

// FromError builds the envelope for a classified error. Internal errors get a
// generic message; their detail belongs in the logs only.
func FromError(err error) *APIError {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return &APIError{Detail: "internal server error", Kind: KindInternal}
	}
	if e.Kind == KindTransient {
		return &APIError{Detail: e.Message, Kind: e.Kind}
	}
	return &APIError{Detail: e.Message, Kind: e.Kind, Fields: e.Fields}
}
