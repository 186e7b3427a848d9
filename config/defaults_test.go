package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, LedgerConfig{}, cfg.Ledger)
	assert.NotEqual(t, BreakerConfig{}, cfg.Breaker)
	assert.NotEqual(t, HealthConfig{}, cfg.Health)
	assert.NotEqual(t, SelectorConfig{}, cfg.Selector)
	assert.NotEqual(t, PipelineConfig{}, cfg.Pipeline)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
}

func TestDefaultSelectorConfig_WeightsSumToOne(t *testing.T) {
	sc := DefaultSelectorConfig()
	sum := sc.CostWeight + sc.LatencyWeight + sc.AvailabilityWeight
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestDefaultBreakerConfig_MatchesBreakerPackageDefaults(t *testing.T) {
	bc := DefaultBreakerConfig()
	assert.Equal(t, 5, bc.Threshold)
	assert.Equal(t, 3, bc.HalfOpenMaxCalls)
	assert.Equal(t, 1, bc.HalfOpenSuccessThreshold)
}

func TestDefaultPipelineConfig_DeadlineWithinCeiling(t *testing.T) {
	pc := DefaultPipelineConfig()
	assert.LessOrEqual(t, pc.DeadlineCeiling.Minutes(), 5.0)
}
