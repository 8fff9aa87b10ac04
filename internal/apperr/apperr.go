package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for logging and for the HTTP boundary
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindPermissionDenied
	KindNotFound
	KindMethodNotAllowed
	KindConflict
	KindStateConflict
	KindThrottled
	KindUpstream
	KindIndexing
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindConflict:
		return "conflict"
	case KindStateConflict:
		return "state_conflict"
	case KindThrottled:
		return "throttled"
	case KindUpstream:
		return "upstream"
	case KindIndexing:
		return "indexing"
	case KindNotification:
		return "notification"
	default:
		return "internal"
	}
}

// Error is the error type shared by every catalog package
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Details carries extra response fields, e.g. per-field validation messages
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func StateConflict(format string, args ...any) *Error {
	return New(KindStateConflict, format, args...)
}

func Upstream(err error, msg string) *Error {
	return Wrap(KindUpstream, err, msg)
}

// WithDetails returns a copy of e carrying the given response details
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing message for err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Internal server error"
}

// HTTPStatus maps an error to the status code returned at the HTTP boundary
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindConflict, KindStateConflict:
		return http.StatusConflict
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
