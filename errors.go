package router

import (
	"fmt"
	"strings"
)

// Code identifies a class of failure a caller can branch on.
type Code string

const (
	// CodeInvalidInput marks a request that failed validation before any
	// backend was contacted.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeConfiguration marks a misconfigured backend or orchestrator.
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	// CodeAuthentication marks a rejected or missing credential.
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	// CodeRateLimited marks a backend-reported rate limit.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeBackendTimeout marks a backend call that exceeded its deadline.
	CodeBackendTimeout Code = "BACKEND_TIMEOUT"
	// CodeBackendTransient marks a retryable backend-side failure
	// (connection reset, 5xx, overload).
	CodeBackendTransient Code = "BACKEND_TRANSIENT"
	// CodeContextTooLarge marks a prompt that exceeds every candidate
	// backend's context window even after compression.
	CodeContextTooLarge Code = "CONTEXT_TOO_LARGE"
	// CodeRequestTimeout marks the pipeline's own deadline expiring.
	CodeRequestTimeout Code = "REQUEST_TIMEOUT"
	// CodeNoHealthyBackend marks the case where every candidate was
	// filtered out or exhausted without success.
	CodeNoHealthyBackend Code = "NO_HEALTHY_BACKEND"
	// CodeSecurity marks a request rejected by a security hook.
	CodeSecurity Code = "SECURITY_ERROR"
)

// retryableCodes lists the codes a caller may retry unmodified.
var retryableCodes = map[Code]bool{
	CodeRateLimited:      true,
	CodeBackendTimeout:   true,
	CodeBackendTransient: true,
}

// surfaceableCodes lists the codes always safe to show a user verbatim,
// as opposed to codes that should be logged and translated into a
// generic message. CodeRateLimited, CodeBackendTimeout and
// CodeBackendTransient are surfaceable only once every fallback
// candidate has been exhausted — see Error.Exhausted.
var surfaceableCodes = map[Code]bool{
	CodeInvalidInput:     true,
	CodeConfiguration:    true,
	CodeAuthentication:   true,
	CodeContextTooLarge:  true,
	CodeRequestTimeout:   true,
	CodeNoHealthyBackend: true,
	CodeSecurity:         true,
}

// conditionallySurfaceableCodes are only safe to surface once the
// caller has exhausted every fallback and is reporting the final
// failure, rather than an intermediate one a retry might still fix.
var conditionallySurfaceableCodes = map[Code]bool{
	CodeRateLimited:      true,
	CodeBackendTimeout:   true,
	CodeBackendTransient: true,
}

// Attempt records one candidate backend's outcome during a fallback
// sequence, so a final dispatch failure can report exactly which
// backends were tried and why each one failed (§4.4, §8 scenario 6).
type Attempt struct {
	Backend string
	Err     error
}

// Error is the typed error every component in this module returns.
type Error struct {
	Code    Code
	Message string
	Backend string
	Cause   error
	// Exhausted marks this as the final failure after every fallback
	// candidate was tried, rather than one attempt among several.
	Exhausted bool
	// Attempts is the ordered sequence of candidates dispatch tried
	// before giving up, each with its own error. Populated only on the
	// final error returned after exhausting (or halting) a fallback
	// sequence; nil for single-attempt failures such as validation.
	Attempts []Attempt
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Backend != "" {
		msg += fmt.Sprintf(" (backend=%s)", e.Backend)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = fmt.Sprintf("%s: %s", a.Backend, a.Err)
		}
		msg += " [attempts: " + strings.Join(parts, "; ") + "]"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether a caller may retry the request unmodified.
func (e *Error) Retryable() bool { return retryableCodes[e.Code] }

// Surfaceable reports whether the message is safe to show a user as-is.
func (e *Error) Surfaceable() bool {
	if surfaceableCodes[e.Code] {
		return true
	}
	return e.Exhausted && conditionallySurfaceableCodes[e.Code]
}

// NewError builds an *Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches an underlying error and returns the receiver.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithBackend attaches the backend name that produced the failure.
func (e *Error) WithBackend(name string) *Error {
	e.Backend = name
	return e
}

// WithExhausted marks the error as the final failure after every
// fallback candidate was tried.
func (e *Error) WithExhausted() *Error {
	e.Exhausted = true
	return e
}

// WithAttempts attaches the ordered sequence of candidates dispatch
// tried before returning e as the final failure.
func (e *Error) WithAttempts(attempts []Attempt) *Error {
	e.Attempts = attempts
	return e
}

// IsRetryable reports whether err is a *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Retryable()
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
