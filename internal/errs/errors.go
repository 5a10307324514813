// Package errs defines the typed error taxonomy shared by the download
// core, the exponential backoff retry primitive, and the recovery manager
// that layers token refresh and rate-limit gating on top of it.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an application error.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindNotFound   Kind = "not_found"
	KindDecryption Kind = "decryption"
	KindFilesystem Kind = "filesystem"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// Error is the application error type. Retryability is decided at
// construction time: network, filesystem and rate-limit errors are
// transient, auth errors are retryable after a token refresh, and
// decryption, validation and not-found errors are terminal.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Network reports a transport-level failure.
func Network(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, StatusCode: http.StatusServiceUnavailable, Retryable: true, Cause: cause}
}

// Auth reports an authentication failure. Retryable because the recovery
// manager refreshes the session token before the next attempt.
func Auth(message string, cause error) *Error {
	return &Error{Kind: KindAuth, Message: message, StatusCode: http.StatusUnauthorized, Retryable: true, Cause: cause}
}

// RateLimit reports that the service throttled us.
func RateLimit(message string) *Error {
	return &Error{Kind: KindRateLimit, Message: message, StatusCode: http.StatusTooManyRequests, Retryable: true}
}

// NotFound reports a missing resource or unavailable quality.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, StatusCode: http.StatusNotFound, Retryable: false}
}

// Decryption reports corrupt or undecryptable content.
func Decryption(message string, cause error) *Error {
	return &Error{Kind: KindDecryption, Message: message, StatusCode: http.StatusInternalServerError, Retryable: false, Cause: cause}
}

// Filesystem reports a file I/O failure. Retryable: on desktop machines
// these are frequently transient AV or indexer locks.
func Filesystem(message string, cause error) *Error {
	return &Error{Kind: KindFilesystem, Message: message, StatusCode: http.StatusInternalServerError, Retryable: true, Cause: cause}
}

// Validation reports rejected input (bad template, path escape, bad config).
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, StatusCode: http.StatusBadRequest, Retryable: false}
}

// FromStatus maps an HTTP status code onto the taxonomy.
func FromStatus(status int, message string) *Error {
	msg := fmt.Sprintf("%s: HTTP %d", message, status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: msg, StatusCode: status, Retryable: true}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: msg, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Message: msg, StatusCode: status, Retryable: true}
	case status >= 500:
		return &Error{Kind: KindNetwork, Message: msg, StatusCode: status, Retryable: true}
	default:
		return &Error{Kind: KindNetwork, Message: msg, StatusCode: status}
	}
}

// KindOf returns the category of err, unwrapping as needed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may succeed on a later attempt.
// Unrecognized errors are not retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func IsAuth(err error) bool      { return KindOf(err) == KindAuth }
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }
func IsNetwork(err error) bool   { return KindOf(err) == KindNetwork }
func IsNotFound(err error) bool  { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
