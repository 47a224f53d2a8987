package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure for propagation and retry decisions.
// The kind determines how an error travels: whether it is surfaced to the
// caller, retried with backoff, or recorded as a terminal pipeline failure.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotAuthorized       ErrorKind = "not_authorized"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindTransientIO         ErrorKind = "transient_io"
	KindProviderRateLimited ErrorKind = "provider_rate_limited"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindProviderContract    ErrorKind = "provider_contract"
	KindParseError          ErrorKind = "parse_error"
	KindDegradedKnowledge   ErrorKind = "degraded_knowledge"
	KindTimeout             ErrorKind = "timeout"
	KindInternal            ErrorKind = "internal"
)

// Retryable reports whether failures of this kind should be retried
// with backoff instead of surfaced immediately.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientIO, KindProviderRateLimited, KindProviderUnavailable, KindTimeout, KindInternal:
		return true
	}
	return false
}

// Error is the service-wide error type carrying a kind, a caller-safe
// message, and an optional wrapped cause. Stack traces never leave the
// service; API handlers render only {error_kind, message, correlation_id}.
type Error struct {
	Kind    ErrorKind
	Message string
	// Guidance holds an operator-facing hint for terminal parse failures,
	// e.g. "file is password protected, upload a decrypted copy".
	Guidance string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E constructs a typed error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef constructs a typed error with a formatted message.
func Ef(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
// Wrapping a nil error returns nil.
func Wrap(kind ErrorKind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the ErrorKind from an error chain.
// Untyped errors are treated as internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the error chain carries a retryable kind.
// Untyped errors are retryable (treated as internal until max retries).
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// ClassifyProvider maps a raw model-provider failure onto the taxonomy so
// callers retry rate limits and outages but not contract violations.
func ClassifyProvider(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return Wrap(KindProviderRateLimited, "provider rate limited", err)
	case strings.Contains(msg, "503") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "overloaded"):
		return Wrap(KindProviderUnavailable, "provider unavailable", err)
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		return Wrap(KindTimeout, "provider call timed out", err)
	default:
		return Wrap(KindProviderUnavailable, "provider call failed", err)
	}
}

// GuidanceOf extracts operator guidance from a parse error chain, if any.
func GuidanceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Guidance
	}
	return ""
}
