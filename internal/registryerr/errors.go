// Package registryerr defines the registry's single tagged error type, an
// AppError-style idiom generalized from three kinds to the seven the
// registry's API surface distinguishes.
package registryerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories an API caller can observe.
type Kind string

const (
	KindNotFound    Kind = "NOT_FOUND"
	KindBadRequest  Kind = "BAD_REQUEST"
	KindConflict    Kind = "CONFLICT"
	KindInUse       Kind = "IN_USE"
	KindForbidden   Kind = "FORBIDDEN"
	KindUnavailable Kind = "UNAVAILABLE"
	KindInternal    Kind = "INTERNAL"
)

// Error is the registry's structured error. LeaderHint is populated on
// KindBadRequest responses produced by the router when a write lands on a
// follower, so the caller knows where to retry.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	LeaderHint string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *Error   { return newf(KindNotFound, format, args...) }
func BadRequestf(format string, args ...interface{}) *Error { return newf(KindBadRequest, format, args...) }
func Conflictf(format string, args ...interface{}) *Error   { return newf(KindConflict, format, args...) }
func InUsef(format string, args ...interface{}) *Error      { return newf(KindInUse, format, args...) }
func Forbiddenf(format string, args ...interface{}) *Error  { return newf(KindForbidden, format, args...) }
func Unavailablef(format string, args ...interface{}) *Error {
	return newf(KindUnavailable, format, args...)
}

// Internal wraps a lower-level error (storage, serialization, raft) as a
// KindInternal registry error.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// BadRequestWithLeader builds a "must be submitted to the leader"
// response, carrying the current leader's address when known.
func BadRequestWithLeader(leaderAddr string) *Error {
	return &Error{
		Kind:       KindBadRequest,
		Message:    "must be submitted to the leader",
		LeaderHint: leaderAddr,
	}
}

// Is reports whether err (or anything it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// ToHTTPStatus maps a registry error to the HTTP status the API layer
// returns.
func ToHTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindInUse:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
