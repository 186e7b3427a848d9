// Package anthropic implements the hosted chat-completions adaptor for
// the Anthropic Messages API: x-api-key authentication, a dedicated
// anthropic-version header, and a content-block response shape rather
// than the OpenAI-style single message string, so it cannot share
// providers/openaicompat's wire format.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	router "github.com/modelmesh/router"
	"github.com/modelmesh/router/providers"
	"github.com/modelmesh/router/retry"
	"go.uber.org/zap"
)

const defaultAPIVersion = "2023-06-01"

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Provider is the Anthropic Messages API adaptor.
type Provider struct {
	Descriptor router.BackendDescriptor
	APIKey     string
	APIVersion string
	Client     *http.Client
	Logger     *zap.Logger
	Retryer    retry.Retryer

	latencyNS int64
}

// New creates an Anthropic adaptor. descriptor.Endpoint defaults to the
// public API host when empty.
func New(descriptor router.BackendDescriptor, apiKey string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if descriptor.Endpoint == "" {
		descriptor.Endpoint = "https://api.anthropic.com"
	}
	descriptor.Kind = router.KindCloud
	timeout := descriptor.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second // Anthropic completions can run long.
	}
	return &Provider{
		Descriptor: descriptor,
		APIKey:     apiKey,
		APIVersion: defaultAPIVersion,
		Client:     &http.Client{Timeout: timeout},
		Logger:     logger,
		Retryer:    retry.NewBackoffRetryer(retry.DefaultPolicy(), logger),
		latencyNS:  int64(timeout / 4),
	}
}

func (p *Provider) buildHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", p.APIVersion)
}

func (p *Provider) Available(ctx context.Context) bool {
	if !p.Descriptor.Enabled {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	url := strings.TrimRight(p.Descriptor.Endpoint, "/") + "/v1/models"
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
	if p.APIKey == "" {
		return router.NewError(router.CodeConfiguration, "api key is required").WithBackend(p.Descriptor.Name)
	}
	if p.Descriptor.Model == "" {
		return router.NewError(router.CodeConfiguration, "model is required").WithBackend(p.Descriptor.Name)
	}
	return nil
}

func (p *Provider) Info() router.BackendDescriptor { return p.Descriptor }

func (p *Provider) Send(ctx context.Context, req *router.Request) (*router.Response, error) {
	start := time.Now()

	model := req.Options.Model
	if model == "" {
		model = p.Descriptor.Model
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Options.Temperature,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, router.NewError(router.CodeInvalidInput, "encode request: "+err.Error()).WithBackend(p.Descriptor.Name)
	}

	url := strings.TrimRight(p.Descriptor.Endpoint, "/") + "/v1/messages"

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

	var parsed messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, router.NewError(router.CodeBackendTransient, "decode response: "+err.Error()).WithBackend(p.Descriptor.Name)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	latency := time.Since(start)
	atomic.StoreInt64(&p.latencyNS, int64(latency))

	usage := router.Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}

	return &router.Response{
		RequestID: req.RequestID,
		Backend:   p.Descriptor.Name,
		Text:      text.String(),
		Usage:     usage,
		Cost:      p.EstimateCost(usage.PromptTokens, usage.CompletionTokens),
		Latency:   latency,
	}, nil
}
