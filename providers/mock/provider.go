// Package mock implements a deterministic backend adaptor used in
// tests and, when explicitly enabled, as a last-resort fallback when
// no configured backend is healthy (spec.md §9 Open Question: the
// orchestrator logs a warning rather than silently substituting it).
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	router "github.com/modelmesh/router"
)

// Provider returns a response derived deterministically from the
// request's prompt, so repeated calls with the same prompt produce
// byte-identical text without hitting a network.
type Provider struct {
	info      router.BackendDescriptor
	latencyNS int64
	fail      atomic.Value // func(*router.Request) error, nil means never fail
}

// New creates a mock adaptor. If descriptor fields are left zero,
// sane last-resort defaults are filled in.
func New(descriptor router.BackendDescriptor) *Provider {
	if descriptor.Name == "" {
		descriptor.Name = "mock"
	}
	if descriptor.DefaultTimeout <= 0 {
		descriptor.DefaultTimeout = 5 * time.Second
	}
	descriptor.Kind = router.KindSelfHosted
	p := &Provider{info: descriptor, latencyNS: int64(5 * time.Millisecond)}
	p.fail.Store((func(*router.Request) error)(nil))
	return p
}

// SetFailure installs a function consulted on every Send call; a
// non-nil error it returns is surfaced as-is. Used by tests to drive
// the breaker through specific failure sequences.
func (p *Provider) SetFailure(fn func(*router.Request) error) {
	p.fail.Store(fn)
}

// SetLatency sets the simulated call delay and the value LatencyScore
// currently reports. It does not pin the score: each successful Send
// replaces it with that call's measured duration (the delay plus
// overhead). Used by tests that need a deterministic latency ranking
// across several mock backends before their first call.
func (p *Provider) SetLatency(d time.Duration) {
	atomic.StoreInt64(&p.latencyNS, int64(d))
}

func (p *Provider) Available(ctx context.Context) bool { return p.info.Enabled }

func (p *Provider) EstimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn+tokensOut) * p.info.CostPerToken
}

func (p *Provider) LatencyScore() time.Duration {
	return time.Duration(atomic.LoadInt64(&p.latencyNS))
}

func (p *Provider) ValidateConfig() error { return nil }

func (p *Provider) Info() router.BackendDescriptor { return p.info }

func (p *Provider) Send(ctx context.Context, req *router.Request) (*router.Response, error) {
	start := time.Now()

	if fn, _ := p.fail.Load().(func(*router.Request) error); fn != nil {
		if err := fn(req); err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, router.NewError(router.CodeBackendTimeout, "mock call cancelled").WithBackend(p.info.Name).WithCause(ctx.Err())
	case <-time.After(time.Duration(atomic.LoadInt64(&p.latencyNS))):
	}

	sum := sha256.Sum256([]byte(req.Prompt))
	text := fmt.Sprintf("mock-response-%s", hex.EncodeToString(sum[:8]))

	tokensIn := len(req.Prompt) / 4
	tokensOut := len(text) / 4
	atomic.StoreInt64(&p.latencyNS, int64(time.Since(start)))

	return &router.Response{
		RequestID: req.RequestID,
		Backend:   p.info.Name,
		Text:      text,
		Usage: router.Usage{
			PromptTokens:     tokensIn,
			CompletionTokens: tokensOut,
			TotalTokens:      tokensIn + tokensOut,
		},
		Cost:    p.EstimateCost(tokensIn, tokensOut),
		Latency: time.Since(start),
	}, nil
}
