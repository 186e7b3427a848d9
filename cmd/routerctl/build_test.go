package main

import (
	"testing"

	"github.com/modelmesh/router/config"
	"github.com/modelmesh/router/providers/anthropic"
	"github.com/modelmesh/router/providers/mock"
	"github.com/modelmesh/router/providers/openaicompat"
	"github.com/modelmesh/router/providers/selfhosted"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdaptorKind_FromTag(t *testing.T) {
	assert.Equal(t, adaptorAnthropic, adaptorKind(config.BackendConfig{Tags: []string{"fast", "Anthropic"}}))
	assert.Equal(t, adaptorMock, adaptorKind(config.BackendConfig{Tags: []string{"mock"}}))
}

func TestAdaptorKind_FallsBackToKind(t *testing.T) {
	assert.Equal(t, adaptorSelfHosted, adaptorKind(config.BackendConfig{Kind: "self-hosted"}))
	assert.Equal(t, "", adaptorKind(config.BackendConfig{Kind: "cloud"}))
}

func TestBuildProvider_EachAdaptor(t *testing.T) {
	logger := zap.NewNop()

	p, err := buildProvider(config.BackendConfig{Name: "a", Tags: []string{"anthropic"}, Endpoint: "https://api.anthropic.com", Enabled: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Provider{}, p)

	p, err = buildProvider(config.BackendConfig{Name: "b", Tags: []string{"openai-compat"}, Endpoint: "https://api.openai.com", Enabled: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &openaicompat.Provider{}, p)

	p, err = buildProvider(config.BackendConfig{Name: "c", Kind: "self-hosted", Endpoint: "http://localhost:8000", Enabled: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &selfhosted.Provider{}, p)

	p, err = buildProvider(config.BackendConfig{Name: "d", Tags: []string{"mock"}, Enabled: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &mock.Provider{}, p)
}

func TestBuildProvider_AmbiguousCloudBackendErrors(t *testing.T) {
	_, err := buildProvider(config.BackendConfig{Name: "e", Kind: "cloud", Enabled: true}, zap.NewNop())
	assert.Error(t, err)
}

// buildOrchestrator's full wiring (selector, cache, ledger, metrics
// collector) is exercised once, end to end, via TestCmdStatus_* in
// main_test.go. metrics.NewCollector registers against Prometheus's
// global default registry, so a second call in this process with the
// same namespace would panic on duplicate registration; the unit tests
// here stop short of that call.
