// Package health tracks per-backend liveness with a TTL cache so the
// selector never has to block on a live probe for every request.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prober is the subset of a backend adaptor the monitor needs to probe
// liveness. router.Provider satisfies this.
type Prober interface {
	Available(ctx context.Context) bool
}

// Score is a liveness reading for one backend, cached until TTL elapses.
type Score struct {
	Healthy   bool
	CheckedAt time.Time
	// Latency is how long the probe that produced this score took.
	Latency time.Duration
	// Reason carries a short explanation when Healthy is false: either
	// the prober reported the backend unavailable or the probe exceeded
	// its timeout; empty when healthy.
	Reason string
}

// Config controls probe cadence and caching.
type Config struct {
	// Interval is how often the background loop re-probes every backend.
	Interval time.Duration
	// TTL is how long a cached score is trusted before a fresh on-demand
	// probe is triggered.
	TTL time.Duration
	// ProbeTimeout bounds a single Available() call.
	ProbeTimeout time.Duration
	// MaxProbesPerSecond throttles concurrent probing so health checks
	// never compete meaningfully with request traffic.
	MaxProbesPerSecond float64
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	cp := *c
	if cp.Interval <= 0 {
		cp.Interval = 30 * time.Second
	}
	if cp.TTL <= 0 {
		cp.TTL = 15 * time.Second
	}
	if cp.ProbeTimeout <= 0 {
		cp.ProbeTimeout = 3 * time.Second
	}
	if cp.MaxProbesPerSecond <= 0 {
		cp.MaxProbesPerSecond = 10
	}
	return &cp
}

// Monitor caches liveness scores for a set of named backends and
// refreshes them periodically and on demand.
type Monitor struct {
	config  *Config
	logger  *zap.Logger
	limiter *rate.Limiter

	mu         sync.RWMutex
	backends   map[string]Prober
	scores     map[string]Score
	refreshing map[string]bool

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor. Call Start to begin periodic probing.
func New(config *Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.withDefaults()
	return &Monitor{
		config:     cfg,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxProbesPerSecond), 1),
		backends:   make(map[string]Prober),
		scores:     make(map[string]Score),
		refreshing: make(map[string]bool),
		bgCtx:      context.Background(),
	}
}

// Register adds or replaces the prober for a backend name.
func (m *Monitor) Register(name string, p Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[name] = p
}

// Unregister removes a backend from monitoring.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backends, name)
	delete(m.scores, name)
	delete(m.refreshing, name)
}

// Start launches the periodic probe loop. Stop must be called to release
// the goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.bgCtx = ctx
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop terminates the periodic probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.backends))
	probers := make(map[string]Prober, len(m.backends))
	for name, p := range m.backends {
		names = append(names, name)
		probers[name] = p
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.probeOne(ctx, name, probers[name])
	}
}

func (m *Monitor) probeOne(ctx context.Context, name string, p Prober) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	healthy := p.Available(probeCtx)
	latency := time.Since(start)

	reason := ""
	if !healthy {
		reason = "probe reported unavailable"
		if probeCtx.Err() == context.DeadlineExceeded {
			reason = "probe exceeded timeout"
		}
	}

	m.mu.Lock()
	m.scores[name] = Score{Healthy: healthy, CheckedAt: time.Now(), Latency: latency, Reason: reason}
	delete(m.refreshing, name)
	m.mu.Unlock()

	if !healthy {
		m.logger.Warn("backend probe failed", zap.String("backend", name), zap.String("reason", reason))
	}
}

// IsHealthy returns the cached score for name without ever blocking on a
// network call: a fresh score returns directly, a stale one is still
// treated as eligible (returned as-is) while a refresh is kicked off in
// the background, and an absent score (never probed, or an unknown
// name) defaults to eligible. This keeps routing decisions off the hot
// path, at the cost of occasionally dispatching to a backend whose
// staleness hid a real failure — the breaker catches that on the next
// call regardless.
func (m *Monitor) IsHealthy(ctx context.Context, name string) bool {
	m.mu.RLock()
	score, ok := m.scores[name]
	prober, hasProber := m.backends[name]
	m.mu.RUnlock()

	if !hasProber {
		// Unknown backend: assume healthy until proven otherwise, the
		// same default the selector's filter falls back on.
		return true
	}

	if ok {
		if time.Since(score.CheckedAt) >= m.config.TTL {
			m.triggerAsyncRefresh(name, prober)
		}
		return score.Healthy
	}

	// Never probed yet: eligible by default, refresh asynchronously.
	m.triggerAsyncRefresh(name, prober)
	return true
}

// triggerAsyncRefresh starts a background probe for name unless one is
// already in flight, so a burst of concurrent callers hitting a stale
// score doesn't stampede the backend with redundant probes.
func (m *Monitor) triggerAsyncRefresh(name string, p Prober) {
	m.mu.Lock()
	if m.refreshing[name] {
		m.mu.Unlock()
		return
	}
	m.refreshing[name] = true
	m.mu.Unlock()

	go m.probeOne(m.bgCtx, name, p)
}

// ForceCheck synchronously refreshes every registered backend's score.
func (m *Monitor) ForceCheck(ctx context.Context) {
	m.probeAll(ctx)
}

// Snapshot returns a copy of all currently cached scores.
func (m *Monitor) Snapshot() map[string]Score {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Score, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}
