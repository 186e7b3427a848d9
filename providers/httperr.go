// Package providers holds helpers shared by the HTTP backend adaptors
// (providers/openaicompat, providers/selfhosted through it, and
// providers/anthropic): HTTP status-to-taxonomy mapping and a bounded
// error body reader, so each adaptor maps transport failures into
// router.Error the same way.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	router "github.com/modelmesh/router"
)

// maxErrBodyBytes bounds how much of an error response body is read
// into the wrapped error message.
const maxErrBodyBytes = 2 << 10

// ReadErrBody reads up to maxErrBodyBytes of r, for inclusion in an
// error message, without risking an unbounded read on a misbehaving
// backend.
func ReadErrBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrBodyBytes))
	return string(data)
}

// MapHTTPStatus classifies an HTTP response status into the router
// error taxonomy (spec §7), the way every hosted adaptor must normalise
// a backend-specific failure into a common shape the circuit breaker
// can classify.
func MapHTTPStatus(backend string, status int, body string) *router.Error {
	msg := fmt.Sprintf("backend returned status %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return router.NewError(router.CodeAuthentication, msg).WithBackend(backend)
	case status == http.StatusTooManyRequests:
		return router.NewError(router.CodeRateLimited, msg).WithBackend(backend)
	case status == http.StatusRequestEntityTooLarge:
		return router.NewError(router.CodeContextTooLarge, msg).WithBackend(backend)
	case status >= 400 && status < 500:
		return router.NewError(router.CodeInvalidInput, msg).WithBackend(backend)
	case status >= 500:
		return router.NewError(router.CodeBackendTransient, msg).WithBackend(backend)
	default:
		return router.NewError(router.CodeBackendTransient, msg).WithBackend(backend)
	}
}

// UnwrapRouterError returns the first *router.Error in err's Unwrap
// chain, so the caller gets the classified error rather than a
// retryer's "failed after N retries: %w" wrapper; an error with no
// *router.Error inside is wrapped as transient. Each HTTP adaptor's
// Send applies this to whatever its retryer returns.
func UnwrapRouterError(err error, backend string) error {
	for e := err; e != nil; {
		if re, ok := e.(*router.Error); ok {
			return re
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return router.NewError(router.CodeBackendTransient, err.Error()).WithBackend(backend).WithCause(err)
}

// MapTransportError classifies a transport-level failure (the HTTP
// round trip itself returned an error rather than a status code) into
// the taxonomy: context deadline exceeded maps to BackendTimeout,
// everything else to BackendTransient so the circuit breaker's
// substring classifier (§4.2) still sees "connection"/"timeout" text.
func MapTransportError(backend string, err error) *router.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return router.NewError(router.CodeBackendTimeout, "request timed out: "+err.Error()).WithBackend(backend).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return router.NewError(router.CodeBackendTimeout, "request timed out: "+err.Error()).WithBackend(backend).WithCause(err)
	}
	return router.NewError(router.CodeBackendTransient, "connection error: "+err.Error()).WithBackend(backend).WithCause(err)
}
