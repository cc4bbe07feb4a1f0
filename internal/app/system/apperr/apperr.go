// Package apperr defines the error kinds shared by the session runtime and
// their HTTP representation.
//
// Services wrap a kind with context using fmt.Errorf("...: %w", apperr.ErrX);
// handlers call Write, which picks the status code with errors.Is and sends
// a small JSON body. Only the wrapped message reaches the client, so
// services must not put internal detail into it.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dalemusser/liveplay/internal/app/store"
)

// Error kinds.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrExpired           = errors.New("token expired")
	ErrRejected          = errors.New("token rejected")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrCodeSpaceExhausted means no free session code was found within the
	// retry budget. Callers may retry.
	ErrCodeSpaceExhausted = errors.New("could not allocate session code")
)

// ErrSessionNotFound is the single participant-facing error for any code
// resolution failure, malformed or unknown alike.
var ErrSessionNotFound = &publicError{kind: ErrNotFound, msg: "session not found"}

type publicError struct {
	kind error
	msg  string
}

func (e *publicError) Error() string { return e.msg }
func (e *publicError) Unwrap() error { return e.kind }

// New returns an error of the given kind whose client-visible message is msg.
func New(kind error, msg string) error {
	return &publicError{kind: kind, msg: msg}
}

// NotFoundOr turns store.ErrNotFound into a not-found error carrying msg
// and returns any other error unchanged.
func NotFoundOr(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return New(ErrNotFound, msg)
	}
	return err
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrRejected), errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrCodeSpaceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrExpired):
		return "token_expired"
	case errors.Is(err, ErrRejected):
		return "token_rejected"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCodeSpaceExhausted):
		return "code_unavailable"
	default:
		return "internal"
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Write sends err as a JSON error response. Unknown errors are reported as
// a generic internal error without their text.
func Write(w http.ResponseWriter, err error) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Code: Code(err)})
}
