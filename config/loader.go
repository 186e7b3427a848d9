// Package config loads the router's configuration from defaults, an
// optional YAML file, and environment variables, in that priority
// order (later sources win).
//
// Usage:
//
//	cfg, notes, err := config.NewLoader().
//	    WithConfigPath("router.yaml").
//	    WithEnvPrefix("MODELMESH").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete, merged router configuration.
type Config struct {
	Backends []BackendConfig `yaml:"backends" env:"BACKENDS"`
	Cache    CacheConfig     `yaml:"cache" env:"CACHE"`
	Ledger   LedgerConfig    `yaml:"ledger" env:"LEDGER"`
	Breaker  BreakerConfig   `yaml:"breaker" env:"BREAKER"`
	Health   HealthConfig    `yaml:"health" env:"HEALTH"`
	Selector SelectorConfig  `yaml:"selector" env:"SELECTOR"`
	Pipeline PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Log      LogConfig       `yaml:"log" env:"LOG"`
}

// BackendConfig describes one backend adaptor as declared by an
// operator. CredentialEnv names the environment variable holding its
// API key; it is never itself stored in the config struct.
type BackendConfig struct {
	Name           string        `yaml:"name" env:"NAME"`
	Kind           string        `yaml:"kind" env:"KIND"`
	Tags           []string      `yaml:"tags" env:"TAGS"`
	MaxContext     int           `yaml:"max_context" env:"MAX_CONTEXT"`
	CostPerToken   float64       `yaml:"cost_per_token" env:"COST_PER_TOKEN"`
	Endpoint       string        `yaml:"endpoint" env:"ENDPOINT"`
	Model          string        `yaml:"model" env:"MODEL"`
	Priority       int           `yaml:"priority" env:"PRIORITY"`
	CredentialEnv  string        `yaml:"credential_env" env:"CREDENTIAL_ENV"`
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
}

// CacheConfig configures the response cache's two tiers.
type CacheConfig struct {
	LocalCapacity int           `yaml:"local_capacity" env:"LOCAL_CAPACITY"`
	LocalTTL      time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisTTL      time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	EnableLocal   bool          `yaml:"enable_local" env:"ENABLE_LOCAL"`
	EnableRedis   bool          `yaml:"enable_redis" env:"ENABLE_REDIS"`
	Policy        string        `yaml:"policy" env:"POLICY"`
}

// LedgerConfig configures the usage ledger's durable store.
type LedgerConfig struct {
	DSN       string `yaml:"dsn" env:"DSN"`
	QueueSize int    `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// BreakerConfig configures the circuit breaker applied to every backend.
type BreakerConfig struct {
	Threshold                int           `yaml:"threshold" env:"THRESHOLD"`
	Timeout                  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ResetTimeout             time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	HalfOpenMaxCalls         int           `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
	HalfOpenSuccessThreshold int           `yaml:"half_open_success_threshold" env:"HALF_OPEN_SUCCESS_THRESHOLD"`
	WindowSize               int           `yaml:"window_size" env:"WINDOW_SIZE"`
	MinSamples               int           `yaml:"min_samples" env:"MIN_SAMPLES"`
	FailureRateThreshold     float64       `yaml:"failure_rate_threshold" env:"FAILURE_RATE_THRESHOLD"`
	SlowCallRateThreshold    float64       `yaml:"slow_call_rate_threshold" env:"SLOW_CALL_RATE_THRESHOLD"`
	SlowCallDuration         time.Duration `yaml:"slow_call_duration" env:"SLOW_CALL_DURATION"`
}

// HealthConfig configures the background backend health monitor.
type HealthConfig struct {
	Interval           time.Duration `yaml:"interval" env:"INTERVAL"`
	TTL                time.Duration `yaml:"ttl" env:"TTL"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	MaxProbesPerSecond int           `yaml:"max_probes_per_second" env:"MAX_PROBES_PER_SECOND"`
}

// SelectorConfig configures the composite scoring weights.
type SelectorConfig struct {
	CostWeight         float64 `yaml:"cost_weight" env:"COST_WEIGHT"`
	LatencyWeight      float64 `yaml:"latency_weight" env:"LATENCY_WEIGHT"`
	AvailabilityWeight float64 `yaml:"availability_weight" env:"AVAILABILITY_WEIGHT"`
}

// PipelineConfig configures the request pipeline's deadline and
// preprocessing knobs.
type PipelineConfig struct {
	DeadlineCeiling      time.Duration `yaml:"deadline_ceiling" env:"DEADLINE_CEILING"`
	CompressionThreshold float64       `yaml:"compression_threshold" env:"COMPRESSION_THRESHOLD"`
	SummaryKeepFraction  float64       `yaml:"summary_keep_fraction" env:"SUMMARY_KEEP_FRACTION"`
	MinSummarySentences  int           `yaml:"min_summary_sentences" env:"MIN_SUMMARY_SENTENCES"`
}

// LogConfig configures zap logger construction.
type LogConfig struct {
	Level        string   `yaml:"level" env:"LEVEL"`
	Format       string   `yaml:"format" env:"FORMAT"`
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// Loader merges configuration sources in priority order: defaults,
// YAML file, environment variables, then programmatic overrides.
type Loader struct {
	configPath string
	envPrefix  string
	overrides  func(*Config)
	validators []func(*Config) error
}

// NewLoader creates a Loader with the standard MODELMESH env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "MODELMESH"}
}

// WithConfigPath sets the optional YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithOverrides registers a function applied after env merging, for
// values supplied directly by the embedding program rather than a
// file or the environment.
func (l *Loader) WithOverrides(fn func(*Config)) *Loader {
	l.overrides = fn
	return l
}

// WithValidator adds an extra validation pass beyond Validate.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load merges every configured source and runs validation, which may
// mutate the result (disabling backends, clamping values) rather than
// failing outright. The returned notes describe every auto-correction
// Validate made, for surfacing in a configuration report.
func (l *Loader) Load() (*Config, []string, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, nil, fmt.Errorf("load config env: %w", err)
	}

	if l.overrides != nil {
		l.overrides(cfg)
	}

	notes := cfg.Validate()

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, notes, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, notes, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively overlays environment variables onto v,
// using each field's env tag to build MODELMESH_SECTION_FIELD keys.
// Slice-of-struct fields (Backends) are intentionally left to the YAML
// file or programmatic overrides since a flat env var cannot express
// a list of backend descriptors.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Struct {
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads from path and panics on error, for main()'s use.
func MustLoad(path string) *Config {
	cfg, _, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
