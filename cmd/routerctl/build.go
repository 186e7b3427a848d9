package main

import (
	"fmt"
	"os"
	"strings"

	router "github.com/modelmesh/router"
	"github.com/modelmesh/router/cache"
	"github.com/modelmesh/router/config"
	"github.com/modelmesh/router/internal/metrics"
	"github.com/modelmesh/router/providers/anthropic"
	"github.com/modelmesh/router/providers/mock"
	"github.com/modelmesh/router/providers/openaicompat"
	"github.com/modelmesh/router/providers/selfhosted"
	"github.com/modelmesh/router/selector"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// adaptorTag names the tag an operator attaches to a backend to select
// its wire adaptor; BackendConfig.Kind only distinguishes the cloud/
// self-hosted availability class used by credential validation, so it
// cannot by itself choose between, say, Anthropic and an OpenAI-
// compatible endpoint.
const (
	adaptorAnthropic    = "anthropic"
	adaptorOpenAICompat = "openai-compat"
	adaptorSelfHosted   = "self-hosted"
	adaptorMock         = "mock"
)

// buildProvider constructs the adaptor named by bc's adaptor tag (see
// adaptorTag), reading its credential from CredentialEnv when set.
func buildProvider(bc config.BackendConfig, logger *zap.Logger) (router.Provider, error) {
	descriptor := router.BackendDescriptor{
		Name:           bc.Name,
		Tags:           bc.Tags,
		MaxContext:     bc.MaxContext,
		CostPerToken:   bc.CostPerToken,
		Endpoint:       bc.Endpoint,
		Model:          bc.Model,
		Priority:       bc.Priority,
		Enabled:        bc.Enabled,
		DefaultTimeout: bc.DefaultTimeout,
	}

	var apiKey string
	if bc.CredentialEnv != "" {
		apiKey = os.Getenv(bc.CredentialEnv)
	}

	switch adaptorKind(bc) {
	case adaptorAnthropic:
		return anthropic.New(descriptor, apiKey, logger), nil
	case adaptorSelfHosted:
		return selfhosted.New(descriptor, apiKey, logger), nil
	case adaptorMock:
		return mock.New(descriptor), nil
	case adaptorOpenAICompat:
		return openaicompat.New(descriptor, apiKey, logger), nil
	default:
		return nil, fmt.Errorf("backend %q: no adaptor tag (%s/%s/%s/%s) and kind %q does not imply one",
			bc.Name, adaptorAnthropic, adaptorOpenAICompat, adaptorSelfHosted, adaptorMock, bc.Kind)
	}
}

// adaptorKind resolves bc's wire adaptor from its tags, falling back to
// its coarse Kind when no tag names one explicitly.
func adaptorKind(bc config.BackendConfig) string {
	for _, t := range bc.Tags {
		switch strings.ToLower(t) {
		case adaptorAnthropic, adaptorOpenAICompat, adaptorSelfHosted, adaptorMock:
			return strings.ToLower(t)
		}
	}
	if string(bc.Kind) == string(router.KindSelfHosted) {
		return adaptorSelfHosted
	}
	return ""
}

// buildOrchestrator wires every configured backend into a provider,
// registers them with a selector and response cache, and returns a
// ready Orchestrator plus the metrics collector attached to it.
// devMode additionally registers a mock last-resort fallback.
func buildOrchestrator(cfg *config.Config, logger *zap.Logger, devMode bool) (*router.Orchestrator, *metrics.Collector, error) {
	sel := selector.New(selector.Weights{
		Cost:         cfg.Selector.CostWeight,
		Latency:      cfg.Selector.LatencyWeight,
		Availability: cfg.Selector.AvailabilityWeight,
	}, nil, logger)

	var rdb *redis.Client
	if cfg.Cache.EnableRedis && cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	}
	respCache := cache.New(rdb, &cache.Config{
		LocalCapacity: cfg.Cache.LocalCapacity,
		LocalTTL:      cfg.Cache.LocalTTL,
		RedisTTL:      cfg.Cache.RedisTTL,
		EnableLocal:   cfg.Cache.EnableLocal,
		EnableRedis:   cfg.Cache.EnableRedis,
		Policy:        cache.Policy(cfg.Cache.Policy),
	}, logger)

	var providerList []router.Provider
	for _, bc := range cfg.EnabledBackends() {
		p, err := buildProvider(bc, logger)
		if err != nil {
			return nil, nil, err
		}
		providerList = append(providerList, p)
		sel.Register(p)
	}

	collector := metrics.NewCollector("router", logger)

	opts := []router.Option{router.WithMetrics(collector)}
	if devMode {
		fallback := mock.New(router.BackendDescriptor{Name: "dev-fallback", Enabled: true})
		opts = append(opts, router.WithDevFallback(true, fallback))
	}

	orch, err := router.NewOrchestrator(cfg, logger, providerList, sel, respCache, opts...)
	if err != nil {
		return nil, nil, err
	}
	// The selector was constructed (and its candidates registered)
	// before the orchestrator existed, so its HealthSource could not be
	// wired at New time; attach it now that the orchestrator's health
	// monitor is live.
	sel.SetHealth(orch)
	return orch, collector, nil
}
