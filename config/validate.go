package config

import (
	"net/url"
	"os"
	"time"
)

// Validate checks the merged configuration for internal consistency,
// auto-correcting what it safely can rather than failing outright: a
// backend with no credential or a malformed endpoint is disabled
// (not removed, so it still shows up in a configuration report), and
// numeric fields outside a sane range are clamped to their default.
// It returns the list of human-readable corrections it made.
func (c *Config) Validate() []string {
	var notes []string

	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Name == "" {
			continue
		}
		if !b.Enabled {
			continue
		}

		if b.Kind == "cloud" && b.CredentialEnv != "" {
			if os.Getenv(b.CredentialEnv) == "" {
				b.Enabled = false
				notes = append(notes, b.Name+": disabled, credential env "+b.CredentialEnv+" is unset")
				continue
			}
		}

		if b.Endpoint != "" {
			if u, err := url.Parse(b.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				b.Enabled = false
				notes = append(notes, b.Name+": disabled, endpoint is malformed")
				continue
			}
		}

		if b.MaxContext <= 0 {
			b.MaxContext = 8192
			notes = append(notes, b.Name+": max_context clamped to 8192")
		}
		if b.CostPerToken < 0 {
			b.CostPerToken = 0
			notes = append(notes, b.Name+": cost_per_token clamped to 0")
		}
		if b.DefaultTimeout <= 0 {
			b.DefaultTimeout = 30 * time.Second
		}
	}

	if c.Selector.CostWeight < 0 || c.Selector.LatencyWeight < 0 || c.Selector.AvailabilityWeight < 0 {
		c.Selector = DefaultSelectorConfig()
		notes = append(notes, "selector weights reset to default, negative weight is not meaningful")
	}
	sum := c.Selector.CostWeight + c.Selector.LatencyWeight + c.Selector.AvailabilityWeight
	if sum <= 0 {
		c.Selector = DefaultSelectorConfig()
		notes = append(notes, "selector weights reset to default, all weights were zero")
	}

	if c.Pipeline.DeadlineCeiling <= 0 || c.Pipeline.DeadlineCeiling > 5*time.Minute {
		c.Pipeline.DeadlineCeiling = 5 * time.Minute
		notes = append(notes, "pipeline deadline ceiling clamped to 5m")
	}
	if c.Pipeline.CompressionThreshold <= 0 || c.Pipeline.CompressionThreshold > 1 {
		c.Pipeline.CompressionThreshold = 0.8
		notes = append(notes, "pipeline compression threshold clamped to 0.8")
	}
	if c.Pipeline.SummaryKeepFraction <= 0 || c.Pipeline.SummaryKeepFraction > 1 {
		c.Pipeline.SummaryKeepFraction = 0.5
		notes = append(notes, "pipeline summary keep fraction clamped to 0.5")
	}
	if c.Pipeline.MinSummarySentences <= 0 {
		c.Pipeline.MinSummarySentences = 2
	}

	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.HalfOpenMaxCalls <= 0 {
		c.Breaker.HalfOpenMaxCalls = 3
	}
	if c.Breaker.HalfOpenSuccessThreshold <= 0 {
		c.Breaker.HalfOpenSuccessThreshold = 1
	}

	if c.Cache.LocalCapacity <= 0 {
		c.Cache.LocalCapacity = 1000
	}

	return notes
}

// EnabledBackends returns the subset of c.Backends left enabled after
// Validate has run.
func (c *Config) EnabledBackends() []BackendConfig {
	var out []BackendConfig
	for _, b := range c.Backends {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out
}
