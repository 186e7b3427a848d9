package router

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelmesh/router/breaker"
	"github.com/modelmesh/router/config"
	"github.com/modelmesh/router/health"
	"github.com/modelmesh/router/internal/metrics"
	"github.com/modelmesh/router/ledger"
	"github.com/modelmesh/router/pipeline"
)

// maxPromptBytes bounds the raw prompt accepted into the pipeline,
// independent of any backend's context window, so a pathological
// request never reaches tokenisation.
const maxPromptBytes = 1 << 20 // 1 MiB

// maxFiles bounds how many attachments one request may carry.
const maxFiles = 100

// HookEvent identifies which pipeline lifecycle point fired a Hook.
type HookEvent string

const (
	HookPreTask  HookEvent = "pre_task"
	HookPostTask HookEvent = "post_task"
)

// Hook observes a pipeline lifecycle event. description is the prompt
// truncated to a safe length, never the full text, since hooks are
// typically wired to logging or external notification.
type Hook func(ctx context.Context, event HookEvent, requestID, description string)

// CandidatePool produces the ordered, filtered dispatch sequence for a
// request. *selector.Selector satisfies this through its Candidates
// method. Package router cannot import package selector directly:
// selector already imports router for Provider and Request, and the
// reverse import would cycle. Defining the narrow interface here and
// injecting the concrete value from cmd/routerctl breaks the cycle
// without either package losing the types it needs.
type CandidatePool interface {
	Candidates(ctx context.Context, tokensIn, tokensOut int, requiredTags []string, preferBackend string) []Provider
}

// ResponseStore is the cache's orchestrator-facing contract:
// fingerprint the request, run build at most once across concurrent
// identical callers, and report whether the caller's own build ran or
// rode someone else's. *cache.Cache satisfies this through its
// Coalesce method, for the same cycle-avoidance reason as CandidatePool.
type ResponseStore interface {
	Coalesce(ctx context.Context, req *Request, build func(context.Context) (*Response, error)) (*Response, bool, error)
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithPreHook registers a hook fired once validation passes and before
// the cache is consulted.
func WithPreHook(h Hook) Option { return func(o *Orchestrator) { o.preHook = h } }

// WithPostHook registers a hook fired after a response (success or
// exhausted failure) is ready to return, before the ledger write.
func WithPostHook(h Hook) Option { return func(o *Orchestrator) { o.postHook = h } }

// WithDevFallback registers a last-resort provider, typically
// providers/mock, consulted only when every configured backend is
// unhealthy or has exhausted its fallback chain and enabled is true.
// Enabling it always logs a warning when it is actually used, rather
// than silently substituting a synthetic response for a real one.
func WithDevFallback(enabled bool, p Provider) Option {
	return func(o *Orchestrator) {
		o.devFallbackEnabled = enabled
		o.devFallback = p
	}
}

// WithMetrics attaches a Prometheus collector. Without one, Complete
// and dispatch simply skip recording; every metrics call checks for a
// nil collector first, so this option is purely additive.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

type backendState struct {
	provider Provider
	breaker  breaker.Breaker
	info     BackendDescriptor
}

// Orchestrator wires every subsystem together (backend adaptors,
// circuit breakers, health monitoring, selection, caching, the usage
// ledger and the preprocessing pipeline) behind one entry point,
// Complete. Construct it with NewOrchestrator; once returned it is
// safe for concurrent use.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger

	backends map[string]*backendState
	pool     CandidatePool
	store    ResponseStore
	monitor  *health.Monitor
	ledger   *ledger.Ledger

	preHook  Hook
	postHook Hook

	devFallbackEnabled bool
	devFallback        Provider

	metrics *metrics.Collector

	cancelBG context.CancelFunc
}

// NewOrchestrator wires a breaker and health monitoring for each of
// providers, opens the usage ledger, and starts background health
// probing. pool and store are normally a *selector.Selector and a
// *cache.Cache built by the caller (see cmd/routerctl); they are
// accepted here as interfaces so this package never imports either.
func NewOrchestrator(cfg *config.Config, logger *zap.Logger, providers []Provider, pool CandidatePool, store ResponseStore, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, NewError(CodeConfiguration, "configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		backends: make(map[string]*backendState, len(providers)),
		pool:     pool,
		store:    store,
	}
	for _, opt := range opts {
		opt(o)
	}

	bCfg := &breaker.Config{
		Threshold:                cfg.Breaker.Threshold,
		Timeout:                  cfg.Breaker.Timeout,
		ResetTimeout:             cfg.Breaker.ResetTimeout,
		HalfOpenMaxCalls:         cfg.Breaker.HalfOpenMaxCalls,
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccessThreshold,
		WindowSize:   cfg.Breaker.WindowSize,
		MinSamples:   cfg.Breaker.MinSamples,
		FailureRateThreshold:     cfg.Breaker.FailureRateThreshold,
		SlowCallRateThreshold:    cfg.Breaker.SlowCallRateThreshold,
		SlowCallDuration:         cfg.Breaker.SlowCallDuration,
	}

	o.monitor = health.New(&health.Config{
		Interval:           cfg.Health.Interval,
		TTL:                cfg.Health.TTL,
		ProbeTimeout:       cfg.Health.ProbeTimeout,
		MaxProbesPerSecond: float64(cfg.Health.MaxProbesPerSecond),
	}, logger)

	for _, p := range providers {
		info := p.Info()
		if info.Name == "" {
			return nil, NewError(CodeConfiguration, "a registered provider has no name")
		}
		name := info.Name
		perBackend := *bCfg
		perBackend.OnStateChange = func(from, to breaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("backend", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if o.metrics != nil {
				o.metrics.RecordBreakerTransition(name, from.String(), to.String())
			}
		}
		o.backends[name] = &backendState{
			provider: p,
			breaker:  breaker.New(name, &perBackend, logger.With(zap.String("backend", name))),
			info:     info,
		}
		o.monitor.Register(name, p)
	}

	l, err := ledger.Open(&ledger.Config{DSN: cfg.Ledger.DSN, QueueSize: cfg.Ledger.QueueSize}, logger)
	if err != nil {
		return nil, NewError(CodeConfiguration, "open ledger: "+err.Error()).WithCause(err)
	}
	o.ledger = l

	ctx, cancel := context.WithCancel(context.Background())
	o.cancelBG = cancel
	o.monitor.Start(ctx)

	return o, nil
}

// Cleanup shuts every background subsystem down in dependency order:
// health probing first (it would otherwise keep calling adaptors being
// torn down), then the ledger's writer so every queued entry is
// flushed before the process exits.
func (o *Orchestrator) Cleanup() error {
	if o.cancelBG != nil {
		o.cancelBG()
	}
	o.monitor.Stop()
	return o.ledger.Close()
}

// StatusReport summarises one backend's current standing for an
// operator, combining health monitoring and breaker state.
type StatusReport struct {
	Name         string
	Enabled      bool
	Healthy      bool
	BreakerState string
	LatencyScore time.Duration
	ConfigIssues []string
}

// IsHealthy reports name's cached liveness score, satisfying
// selector.HealthSource so the selector built in cmd/routerctl can
// consult this orchestrator's health monitor without either package
// importing the other: build.go constructs the Selector before the
// Orchestrator exists (the Selector's candidates must be registered
// before NewOrchestrator is called) and wires this method in afterward
// with Selector.SetHealth.
func (o *Orchestrator) IsHealthy(ctx context.Context, name string) bool {
	return o.monitor.IsHealthy(ctx, name)
}

// LedgerEntries returns the most recently served usage entries, most
// recent first, for operator tooling and tests.
func (o *Orchestrator) LedgerEntries(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return o.ledger.Recent(ctx, limit)
}

// Status reports every registered backend's health and breaker state.
func (o *Orchestrator) Status(ctx context.Context) []StatusReport {
	out := make([]StatusReport, 0, len(o.backends))
	for name, b := range o.backends {
		var issues []string
		if err := b.provider.ValidateConfig(); err != nil {
			issues = append(issues, err.Error())
		}
		out = append(out, StatusReport{
			Name:         name,
			Enabled:      b.info.Enabled,
			Healthy:      o.monitor.IsHealthy(ctx, name),
			BreakerState: b.breaker.State().String(),
			LatencyScore: b.provider.LatencyScore(),
			ConfigIssues: issues,
		})
	}
	return out
}

// ConfigValidationReport re-runs configuration validation and returns
// the human-readable corrections it would make, for an operator-facing
// report without mutating the orchestrator's live configuration.
func (o *Orchestrator) ConfigValidationReport() []string {
	cp := *o.cfg
	// Validate edits backends in place; give the copy its own slice so
	// the live configuration's backends are left untouched.
	cp.Backends = append([]config.BackendConfig(nil), o.cfg.Backends...)
	return cp.Validate()
}

// validateRequest enforces the security and size limits every request
// must pass before preprocessing or routing ever sees it: a prompt
// within maxPromptBytes, no more than maxFiles attachments, and no
// attachment name that escapes its own directory component.
func validateRequest(req *Request) error {
	if req.Prompt == "" {
		return NewError(CodeInvalidInput, "prompt must not be empty")
	}
	if len(req.Prompt) > maxPromptBytes {
		return NewError(CodeInvalidInput, "prompt exceeds maximum size")
	}
	if len(req.Files) > maxFiles {
		return NewError(CodeInvalidInput, "too many attachments")
	}
	for _, f := range req.Files {
		clean := filepath.Clean(f.Name)
		if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") || filepath.IsAbs(clean) {
			return NewError(CodeSecurity, "attachment name escapes its directory: "+f.Name)
		}
	}
	return nil
}

// truncateForHook caps a hook's description argument well short of a
// full prompt, since hooks are typically wired to logging sinks that
// should never carry the entire request body.
func truncateForHook(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func (o *Orchestrator) fireHook(ctx context.Context, h Hook, event HookEvent, requestID, description string) {
	if h == nil {
		return
	}
	h(ctx, event, requestID, truncateForHook(description))
}

// pipelineDeadline returns the single deadline applied to the whole
// request: the smallest of the caller's own timeout (if any), the
// configured ceiling, and an absolute five-minute backstop.
func (o *Orchestrator) pipelineDeadline(requested time.Duration) time.Duration {
	ceiling := o.cfg.Pipeline.DeadlineCeiling
	if ceiling <= 0 || ceiling > 5*time.Minute {
		ceiling = 5 * time.Minute
	}
	d := ceiling
	if requested > 0 && requested < d {
		d = requested
	}
	return d
}

// Complete runs the full request pipeline: validation, an optional
// raw-mode preprocessing bypass, cache coalescing, compression and
// summarisation, ordered dispatch across breaker-guarded candidates,
// and a non-blocking usage ledger write. One deadline governs the
// entire call; exceeding it surfaces CodeRequestTimeout regardless of
// which stage was in flight.
func (o *Orchestrator) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.pipelineDeadline(req.Options.Timeout))
	defer cancel()

	o.fireHook(ctx, o.preHook, HookPreTask, req.RequestID, req.Prompt)

	started := time.Now()
	var resp *Response
	var err error

	build := func(ctx context.Context) (*Response, error) {
		return o.dispatch(ctx, req)
	}

	if req.Options.SkipCache || o.store == nil {
		resp, err = build(ctx)
	} else {
		var hit bool
		resp, hit, err = o.store.Coalesce(ctx, req, build)
		if err == nil && o.metrics != nil {
			if hit {
				o.metrics.RecordCacheHit("response")
			} else {
				o.metrics.RecordCacheMiss("response")
			}
		}
	}

	o.fireHook(ctx, o.postHook, HookPostTask, req.RequestID, req.Prompt)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = NewError(CodeRequestTimeout, "pipeline deadline exceeded").WithCause(err)
		}
		o.appendLedger(req, nil, false, time.Since(started), err)
		o.recordRequestMetric(ctx, err, time.Since(started))
		return nil, err
	}

	o.appendLedger(req, resp, resp.CacheHit, time.Since(started), nil)
	o.recordRequestMetric(ctx, nil, time.Since(started))
	return resp, nil
}

// recordRequestMetric classifies the pipeline outcome (ok, timeout, or
// error) for the requests_total/request_duration_seconds series.
func (o *Orchestrator) recordRequestMetric(ctx context.Context, err error, latency time.Duration) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
		status = "ok"
	case ctx.Err() == context.DeadlineExceeded:
		status = "timeout"
	default:
		status = "error"
	}
	o.metrics.RecordRequest(status, latency)
}

func (o *Orchestrator) appendLedger(req *Request, resp *Response, cacheHit bool, latency time.Duration, failErr error) {
	entry := ledger.Entry{
		RequestID:   req.RequestID,
		Fingerprint: Fingerprint(req),
		CacheHit:    cacheHit,
		LatencyMS:   latency.Milliseconds(),
		ServedAt:    time.Now(),
	}
	if resp != nil {
		entry.Backend = resp.Backend
		// A cache hit bills nothing and consumes no new tokens: the
		// backend call it would otherwise have made never happened.
		if !cacheHit {
			entry.PromptTokens = resp.Usage.PromptTokens
			entry.CompletionTokens = resp.Usage.CompletionTokens
			entry.Cost = resp.Cost
		}
	}
	if failErr != nil {
		entry.Backend = "none"
	}

	before := o.ledger.OverflowCount()
	o.ledger.Append(entry)

	if o.metrics != nil {
		o.metrics.RecordLedgerQueueDepth(o.ledger.QueueDepth())
		if after := o.ledger.OverflowCount(); after > before {
			o.metrics.RecordLedgerOverflow()
		}
	}
}

// dispatch preprocesses the prompt (unless raw mode is requested),
// asks the candidate pool for an ordered provider sequence, and calls
// each candidate in turn through its breaker until one succeeds or the
// sequence (plus an optional dev fallback) is exhausted.
func (o *Orchestrator) dispatch(ctx context.Context, req *Request) (*Response, error) {
	prompt := req.Prompt
	if !req.Options.RawMode {
		tokenizer := pipeline.Registry(req.Options.Model, 0)
		result, err := pipeline.Preprocess(prompt, tokenizer,
			o.cfg.Pipeline.CompressionThreshold,
			o.cfg.Pipeline.SummaryKeepFraction,
			o.cfg.Pipeline.MinSummarySentences)
		if err != nil {
			return nil, NewError(CodeInvalidInput, "preprocess: "+err.Error()).WithCause(err)
		}
		prompt = result.Text
	}

	effective := *req
	effective.Prompt = prompt

	tokensIn := len(prompt) / 4
	tokensOut := effective.Options.MaxTokens

	var candidates []Provider
	if o.pool != nil {
		candidates = o.pool.Candidates(ctx, tokensIn, tokensOut, effective.Options.Tags, effective.Options.PreferBackend)
	}
	if len(candidates) == 0 {
		return o.tryDevFallback(ctx, &effective, NewError(CodeNoHealthyBackend, "no candidate backend available"), nil)
	}

	var lastErr error
	var attempts []Attempt
	for i, p := range candidates {
		info := p.Info()
		state, ok := o.backends[info.Name]
		if !ok {
			// Candidate came from the pool but was never registered with
			// this orchestrator (mismatched wiring); skip it rather than
			// dispatch through a nil breaker.
			continue
		}

		callStart := time.Now()
		result, callErr := state.breaker.CallWithResult(ctx, func() (any, error) {
			return p.Send(ctx, &effective)
		})
		if callErr == nil {
			resp := result.(*Response)
			if o.metrics != nil {
				o.metrics.RecordBackendCall(info.Name, "ok", time.Since(callStart), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Cost)
			}
			return resp, nil
		}
		if o.metrics != nil {
			o.metrics.RecordBackendCall(info.Name, "error", time.Since(callStart), 0, 0, 0)
		}

		lastErr = callErr
		rerr := toRouterError(callErr)
		attempts = append(attempts, Attempt{Backend: info.Name, Err: rerr})
		exhausted := i == len(candidates)-1
		if exhausted {
			rerr = rerr.WithExhausted()
		}
		o.logger.Warn("backend call failed",
			zap.String("backend", info.Name),
			zap.Error(callErr),
			zap.Bool("exhausted", exhausted))

		// Authentication failures are backend-scoped: a bad credential on
		// one candidate says nothing about the next, so the chain keeps
		// going. Every other non-retryable code (invalid input, context
		// too large, security, configuration) describes the request
		// itself and would fail identically on every remaining
		// candidate, so those halt the chain immediately.
		if !rerr.Retryable() && rerr.Code != CodeAuthentication {
			return nil, rerr.WithAttempts(attempts)
		}
	}

	if lastErr != nil {
		rerr := toRouterError(lastErr)
		if !rerr.Retryable() {
			// The last candidate failed with a non-retryable-but-continued
			// code (currently only Authentication; every other
			// non-retryable code halts the loop above). Earlier
			// candidates may have failed retryably; the exhausted chain
			// is reported as "no healthy backend" with every attempt
			// attached, rather than as the last backend's own failure.
			noHealthy := NewError(CodeNoHealthyBackend, "every candidate refused or failed").WithCause(rerr).WithAttempts(attempts)
			return o.tryDevFallback(ctx, &effective, noHealthy, attempts)
		}
		lastErr = rerr.WithAttempts(attempts)
	}
	return o.tryDevFallback(ctx, &effective, lastErr, attempts)
}

func (o *Orchestrator) tryDevFallback(ctx context.Context, req *Request, cause error, attempts []Attempt) (*Response, error) {
	if !o.devFallbackEnabled || o.devFallback == nil {
		if cause == nil {
			cause = NewError(CodeNoHealthyBackend, "no candidate backend available")
		}
		return nil, toRouterError(cause).WithAttempts(attempts).WithExhausted()
	}
	o.logger.Warn("every configured backend exhausted, serving dev fallback response",
		zap.String("request_id", req.RequestID))
	return o.devFallback.Send(ctx, req)
}

// toRouterError normalises any error into an *Error, wrapping a
// foreign error as an unclassified backend-transient failure so the
// dispatch loop can always call Retryable/WithExhausted on it.
func toRouterError(err error) *Error {
	var e *Error
	if asError(err, &e) {
		return e
	}
	return NewError(CodeBackendTransient, err.Error()).WithCause(err)
}
