// Package selfhosted adapts providers/openaicompat for a self-hosted
// model server: no API key is required by default, and availability is
// probed against the same OpenAI-compatible base URL rather than a
// vendor-specific health endpoint.
package selfhosted

import (
	router "github.com/modelmesh/router"
	"github.com/modelmesh/router/providers/openaicompat"
	"go.uber.org/zap"
)

// Provider embeds the OpenAI-compatible base and overrides the two
// things that differ for an operator-run server: auth is optional, and
// descriptor.Kind is forced to self-hosted regardless of what the
// configuration says.
type Provider struct {
	*openaicompat.Provider
}

// New creates a self-hosted adaptor for descriptor.Endpoint. apiKey may
// be empty; most self-hosted servers (vLLM, llama.cpp, Ollama's OpenAI
// shim) accept requests without one.
func New(descriptor router.BackendDescriptor, apiKey string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	descriptor.Kind = router.KindSelfHosted

	base := openaicompat.New(descriptor, apiKey, logger)
	base.RequireAPIKey = false

	return &Provider{Provider: base}
}
