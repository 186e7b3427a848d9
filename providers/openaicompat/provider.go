// Package openaicompat implements the compatibility adaptor for any
// backend that speaks the OpenAI chat-completions JSON shape at an
// arbitrary base URL (DeepSeek, Qwen, GLM, Groq, OpenRouter and
// self-hosted servers that mimic the same contract).
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	router "github.com/modelmesh/router"
	"github.com/modelmesh/router/providers"
	"github.com/modelmesh/router/retry"
	"go.uber.org/zap"
)

// chatRequest mirrors the OpenAI /v1/chat/completions request shape,
// trimmed to what this adaptor needs.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// RequestHook lets a provider built on this base (e.g. providers/selfhosted)
// adjust the outgoing request before it is marshalled, and HeaderHook
// lets it add or replace HTTP headers beyond the default bearer auth.
type RequestHook func(*chatRequest)
type HeaderHook func(*http.Request, string)

// Provider is the OpenAI-compatible adaptor. It is intentionally
// embeddable: providers/selfhosted embeds it and sets RequireAPIKey to
// false so ValidateConfig accepts a missing API key; bearer auth is
// only sent when a key is set.
type Provider struct {
	Descriptor router.BackendDescriptor
	APIKey     string
	Client     *http.Client
	Logger     *zap.Logger
	Retryer    retry.Retryer

	RequestHook RequestHook
	HeaderHook  HeaderHook
	// RequireAPIKey controls whether ValidateConfig treats a missing
	// APIKey as a configuration error. Self-hosted servers typically
	// don't require one.
	RequireAPIKey bool

	latencyNS int64
}

// New creates an OpenAI-compatible adaptor for descriptor, authenticating
// with apiKey via a standard Bearer header.
func New(descriptor router.BackendDescriptor, apiKey string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := descriptor.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		Descriptor:    descriptor,
		APIKey:        apiKey,
		Client:        &http.Client{Timeout: timeout},
		Logger:        logger,
		Retryer:       retry.NewBackoffRetryer(retry.DefaultPolicy(), logger),
		RequireAPIKey: true,
		latencyNS:     int64(timeout / 4),
	}
}

func (p *Provider) Available(ctx context.Context) bool {
	if !p.Descriptor.Enabled {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	url := strings.TrimRight(p.Descriptor.Endpoint, "/") + "/models"
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (p *Provider) EstimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn+tokensOut) * p.Descriptor.CostPerToken
}

func (p *Provider) LatencyScore() time.Duration {
	return time.Duration(atomic.LoadInt64(&p.latencyNS))
}

func (p *Provider) ValidateConfig() error {
	if p.Descriptor.Endpoint == "" {
		return router.NewError(router.CodeConfiguration, "endpoint is required").WithBackend(p.Descriptor.Name)
	}
	if p.RequireAPIKey && p.APIKey == "" {
		return router.NewError(router.CodeConfiguration, "api key is required").WithBackend(p.Descriptor.Name)
	}
	return nil
}

func (p *Provider) Info() router.BackendDescriptor { return p.Descriptor }

func (p *Provider) buildHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	if p.HeaderHook != nil {
		p.HeaderHook(httpReq, p.APIKey)
		return
	}
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
}

func (p *Provider) Send(ctx context.Context, req *router.Request) (*router.Response, error) {
	start := time.Now()

	model := req.Options.Model
	if model == "" {
		model = p.Descriptor.Model
	}
	body := &chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
	}
	if p.RequestHook != nil {
		p.RequestHook(body)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, router.NewError(router.CodeInvalidInput, "encode request: "+err.Error()).WithBackend(p.Descriptor.Name)
	}

	url := strings.TrimRight(p.Descriptor.Endpoint, "/") + "/chat/completions"

	// Only the transport round trip is retried here: a connection reset
	// or DNS blip is worth a few local retries (up to the retry policy's
	// MaxRetries, 3 by default), but a well-formed HTTP
	// response (even an error one) is final and goes straight to the
	// breaker/selector's fallback sequencing instead of being retried
	// twice over.
	var httpResp *http.Response
	transportErr := p.Retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return router.NewError(router.CodeInvalidInput, err.Error()).WithBackend(p.Descriptor.Name)
		}
		p.buildHeaders(httpReq)

		resp, err := p.Client.Do(httpReq)
		if err != nil {
			return providers.MapTransportError(p.Descriptor.Name, err)
		}
		httpResp = resp
		return nil
	})
	if transportErr != nil {
		return nil, providers.UnwrapRouterError(transportErr, p.Descriptor.Name)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, providers.MapHTTPStatus(p.Descriptor.Name, httpResp.StatusCode, providers.ReadErrBody(httpResp.Body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, router.NewError(router.CodeBackendTransient, "decode response: "+err.Error()).WithBackend(p.Descriptor.Name)
	}

	if len(parsed.Choices) == 0 {
		return nil, router.NewError(router.CodeBackendTransient, "empty choices in response").WithBackend(p.Descriptor.Name)
	}

	latency := time.Since(start)
	atomic.StoreInt64(&p.latencyNS, int64(latency))

	usage := router.Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &router.Response{
		RequestID: req.RequestID,
		Backend:   p.Descriptor.Name,
		Text:      parsed.Choices[0].Message.Content,
		Usage:     usage,
		Cost:      p.EstimateCost(usage.PromptTokens, usage.CompletionTokens),
		Latency:   latency,
	}, nil
}

var _ fmt.Stringer = (*Provider)(nil)

func (p *Provider) String() string { return "openaicompat:" + p.Descriptor.Name }
