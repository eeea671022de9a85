// Package apperr defines the error kinds that cross the service boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	UpstreamAuthFailure
	UpstreamUnavailable
	CacheUnavailable
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case UpstreamAuthFailure:
		return "upstream_auth_failure"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case CacheUnavailable:
		return "cache_unavailable"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Msg
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Invalid(msg string) error {
	return &Error{Kind: InvalidRequest, Msg: msg}
}

func Auth(op string, err error) error {
	return &Error{Kind: UpstreamAuthFailure, Op: op, Msg: "unable to authenticate with pollution API", Err: err}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: UpstreamUnavailable, Op: op, Msg: "upstream unavailable", Err: err}
}

func Cache(op string, err error) error {
	return &Error{Kind: CacheUnavailable, Op: op, Msg: "shared cache unavailable", Err: err}
}

// KindOf returns Internal for errors that carry no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Internal Server Error"
}

// HTTPStatus maps a kind to a status code. authStatus lets deployments
// surface auth breakage as 500 instead of 401.
func HTTPStatus(k Kind, authStatus int) int {
	switch k {
	case InvalidRequest:
		return http.StatusBadRequest
	case UpstreamAuthFailure:
		if authStatus != 0 {
			return authStatus
		}
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

var statusNames = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusUnauthorized:        "UNAUTHORIZED",
	http.StatusForbidden:           "FORBIDDEN",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusTooManyRequests:     "TOO_MANY_REQUESTS",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
}

// StatusName is the envelope "error" value for a status code.
func StatusName(status int) string {
	if s, ok := statusNames[status]; ok {
		return s
	}
	return statusNames[http.StatusInternalServerError]
}
