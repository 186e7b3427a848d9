package router

import (
	"context"
	"time"
)

// Role identifies the speaker of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// File is an attachment accompanying a request. Its name and content
// take part in the request fingerprint and its name is checked by
// request validation; preprocessing works on the prompt alone.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Options carries per-request overrides that influence routing,
// caching and preprocessing, but are not backend wire parameters.
type Options struct {
	// PreferBackend names a backend that sorts first among the eligible
	// candidates. Fallback still applies if the pinned backend fails.
	PreferBackend string
	// MaxTokens bounds the completion length.
	MaxTokens int
	// Temperature controls sampling randomness.
	Temperature float64
	// SkipCache forces a live call even on a fingerprint hit.
	SkipCache bool
	// RawMode skips preprocessing (compression/summarisation) entirely.
	RawMode bool
	// Timeout bounds the whole pipeline; zero uses the orchestrator default.
	Timeout time.Duration
	// Tags restrict candidate backends to those advertising all tags.
	Tags []string
	// Model requests a specific upstream model identifier, overriding
	// the backend's configured default.
	Model string
}

// Request is a single completion request entering the pipeline.
type Request struct {
	RequestID string
	Prompt    string
	Files     []File
	Options   Options
}

// Usage reports token accounting for a served request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a completed request.
type Response struct {
	RequestID string
	Backend   string
	Text      string
	Usage     Usage
	CacheHit  bool
	Cost      float64
	Latency   time.Duration
}

// BackendKind distinguishes backends hosted by a third party from ones
// the operator runs themselves, since the two carry different
// availability assumptions.
type BackendKind string

const (
	KindCloud      BackendKind = "cloud"
	KindSelfHosted BackendKind = "self-hosted"
)

// BackendDescriptor is the static, queryable identity of a backend
// adaptor: its name, declared tags, context window, and tie-break
// priority.
type BackendDescriptor struct {
	Name         string
	Kind         BackendKind
	Tags         []string
	MaxContext   int
	CostPerToken float64
	Endpoint     string
	Model        string
	// Priority breaks ties between equally-scored candidates; lower
	// values are preferred. Name is the final tie-break when Priority
	// also ties.
	Priority int
	// Enabled reports whether configuration validation left this
	// backend in service; disabled backends are never selected.
	Enabled bool
	// DefaultTimeout bounds a single call when the request does not
	// specify its own.
	DefaultTimeout time.Duration
}

// Provider is the uniform facade over one remote completion service.
// Every backend adaptor (hosted, OpenAI-compatible, self-hosted, mock)
// implements this interface.
type Provider interface {
	// Available reports whether the backend is currently reachable,
	// without performing a full completion call.
	Available(ctx context.Context) bool
	// EstimateCost returns the projected cost of a call with the given
	// token counts, in the same unit across all backends.
	EstimateCost(tokensIn, tokensOut int) float64
	// LatencyScore returns a recent rolling latency estimate.
	LatencyScore() time.Duration
	// Send performs the completion call.
	Send(ctx context.Context, req *Request) (*Response, error)
	// ValidateConfig checks the adaptor's configuration for
	// completeness (credentials, base URL) without making a network call.
	ValidateConfig() error
	// Info returns the adaptor's static descriptor.
	Info() BackendDescriptor
}
