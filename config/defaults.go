package config

import "time"

// DefaultConfig returns the configuration used when neither a file nor
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Backends: nil,
		Cache:    DefaultCacheConfig(),
		Ledger:   DefaultLedgerConfig(),
		Breaker:  DefaultBreakerConfig(),
		Health:   DefaultHealthConfig(),
		Selector: DefaultSelectorConfig(),
		Pipeline: DefaultPipelineConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultCacheConfig mirrors cache.DefaultConfig's sizing.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LocalCapacity: 1000,
		LocalTTL:      5 * time.Minute,
		RedisAddr:     "",
		RedisTTL:      time.Hour,
		EnableLocal:   true,
		EnableRedis:   false,
		Policy:        "lru",
	}
}

// DefaultLedgerConfig points at a local file-backed store.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		DSN:       "file:ledger.db?mode=rwc&_foreign_keys=on",
		QueueSize: 1024,
	}
}

// DefaultBreakerConfig mirrors breaker.DefaultConfig.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:                5,
		Timeout:                  30 * time.Second,
		ResetTimeout:             60 * time.Second,
		HalfOpenMaxCalls:         3,
		HalfOpenSuccessThreshold: 1,
		WindowSize:               20,
		MinSamples:               5,
		FailureRateThreshold:     0.5,
		SlowCallRateThreshold:    0.5,
		SlowCallDuration:         5 * time.Second,
	}
}

// DefaultHealthConfig mirrors health.Config's defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:           30 * time.Second,
		TTL:                15 * time.Second,
		ProbeTimeout:        3 * time.Second,
		MaxProbesPerSecond: 10,
	}
}

// DefaultSelectorConfig is the standard 0.4/0.4/0.2 weighting.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		CostWeight:         0.4,
		LatencyWeight:      0.4,
		AvailabilityWeight: 0.2,
	}
}

// DefaultPipelineConfig caps the whole-pipeline deadline at five
// minutes and keeps compression/summarisation conservative.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		DeadlineCeiling:      5 * time.Minute,
		CompressionThreshold: 0.8,
		SummaryKeepFraction:  0.5,
		MinSummarySentences:  2,
	}
}

// DefaultLogConfig mirrors the teacher's JSON-to-stdout default.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
