package router

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSurfaceableUnconditional(t *testing.T) {
	for _, code := range []Code{CodeInvalidInput, CodeConfiguration, CodeAuthentication, CodeContextTooLarge, CodeRequestTimeout, CodeNoHealthyBackend, CodeSecurity} {
		e := NewError(code, "boom")
		if !e.Surfaceable() {
			t.Errorf("expected %s to be unconditionally surfaceable", code)
		}
	}
}

func TestSurfaceableOnlyAfterExhausted(t *testing.T) {
	for _, code := range []Code{CodeRateLimited, CodeBackendTimeout, CodeBackendTransient} {
		e := NewError(code, "boom")
		if e.Surfaceable() {
			t.Errorf("expected %s to not be surfaceable before exhaustion", code)
		}
		e.WithExhausted()
		if !e.Surfaceable() {
			t.Errorf("expected %s to be surfaceable once exhausted", code)
		}
	}
}

func TestRetryableCodes(t *testing.T) {
	if !NewError(CodeRateLimited, "x").Retryable() {
		t.Error("rate limited should be retryable")
	}
	if NewError(CodeInvalidInput, "x").Retryable() {
		t.Error("invalid input should not be retryable")
	}
}

func TestIsRetryableUnwraps(t *testing.T) {
	inner := NewError(CodeBackendTransient, "upstream hiccup")
	wrapped := errors.New("pipeline: " + inner.Error())
	if IsRetryable(wrapped) {
		t.Error("a plain wrapped string should not unwrap into a retryable *Error")
	}

	wrappedErr := fmt.Errorf("pipeline: %w", inner)
	if !IsRetryable(wrappedErr) {
		t.Error("expected BACKEND_TRANSIENT to be retryable through an error wrapper")
	}
}

func TestErrorStringIncludesBackend(t *testing.T) {
	e := NewError(CodeBackendTimeout, "slow").WithBackend("anthropic")
	want := "BACKEND_TIMEOUT: slow (backend=anthropic)"
	if e.Error() != want {
		t.Errorf("got %q, want %q", e.Error(), want)
	}
}

func TestErrorStringIncludesAttempts(t *testing.T) {
	e := NewError(CodeNoHealthyBackend, "no candidate succeeded").WithAttempts([]Attempt{
		{Backend: "a", Err: NewError(CodeAuthentication, "bad key")},
		{Backend: "b", Err: NewError(CodeAuthentication, "bad key")},
	})
	got := e.Error()
	if !strings.Contains(got, "a: ") || !strings.Contains(got, "b: ") {
		t.Errorf("expected both attempted backends in %q", got)
	}
}
