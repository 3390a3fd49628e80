// Package errs defines the typed error kinds surfaced across the engine's
// external interfaces (spec §7): RateLimited, APIError, Cancelled,
// ParseFailure, and PersistenceError. Each wraps an upstream cause with %w
// so callers can still unwrap down to the underlying transport or decode
// error, mirroring the shape of the teacher's ProviderError.
package errs

import "fmt"

// Kind identifies which of the spec's error categories an error belongs to.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindAPIError         Kind = "api_error"
	KindCancelled        Kind = "cancelled"
	KindParseFailure     Kind = "parse_failure"
	KindPersistenceError Kind = "persistence_error"
)

// Error is the concrete error type for every engine-level failure. Code
// mirrors the teacher's ProviderError.Code field (provider-specific, e.g.
// an HTTP status or SDK error string); Kind is the spec-level category.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the caller should retry the operation that
// produced this error. Only RateLimited is retryable in this engine — the
// spec calls for exactly one fixed-delay retry on 429, never a backoff
// ladder for other failure kinds.
func (e *Error) IsRetryable() bool { return e.Kind == KindRateLimited }

func newf(kind Kind, code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// RateLimited wraps a provider 429 / quota-exceeded response.
func RateLimited(code string, cause error, format string, args ...any) *Error {
	return newf(KindRateLimited, code, cause, format, args...)
}

// APIError wraps any other non-2xx provider response or transport failure.
func APIError(code string, cause error, format string, args ...any) *Error {
	return newf(KindAPIError, code, cause, format, args...)
}

// Cancelled wraps a context cancellation or an explicit user-triggered stop.
func Cancelled(cause error, format string, args ...any) *Error {
	return newf(KindCancelled, "", cause, format, args...)
}

// ParseFailure wraps a malformed JSON contract from a Scorer call (score
// review or intent ledger) — the response came back 200 OK but didn't parse
// or didn't validate against the expected shape.
func ParseFailure(cause error, format string, args ...any) *Error {
	return newf(KindParseFailure, "", cause, format, args...)
}

// PersistenceError wraps a failure reading or writing the error-pattern
// store or session state.
func PersistenceError(cause error, format string, args ...any) *Error {
	return newf(KindPersistenceError, "", cause, format, args...)
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
