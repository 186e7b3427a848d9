// Package breaker implements a per-backend circuit breaker with
// failure-pattern classification: the reset timeout is adjusted
// according to the kind of error that is currently tripping the
// breaker, rather than a single fixed value.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen          = errors.New("circuit breaker open")
	ErrHalfOpenLimit = errors.New("too many calls in half-open state")
)

// Config controls breaker thresholds.
type Config struct {
	// Threshold is the failure count that trips the breaker on its own,
	// regardless of window occupancy. The count rises by one on each
	// failure and, while closed, falls by one on each success, so the
	// failures that reach it need not be consecutive.
	Threshold int
	// Timeout bounds a single call.
	Timeout time.Duration
	// ResetTimeout is the base Open -> HalfOpen wait, before any
	// pattern-based adjustment is applied.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls caps the number of probe calls admitted while
	// half-open.
	HalfOpenMaxCalls int
	// HalfOpenSuccessThreshold is the number of consecutive successful
	// probes, out of at most HalfOpenMaxCalls admitted, required to
	// close the breaker again. Kept distinct from HalfOpenMaxCalls so a
	// higher probe-admission cap doesn't also raise the recovery bar:
	// with the default of 1, a single successful probe closes the
	// breaker immediately, matching a fixed two-state half-open gate
	// rather than tying recovery to however many probes happen to be
	// in flight.
	HalfOpenSuccessThreshold int

	// WindowSize bounds the sliding window of recent call outcomes used
	// for failure-rate and slow-call-rate evaluation.
	WindowSize int
	// MinSamples is the minimum window occupancy before failure-rate or
	// slow-call-rate can trip the breaker.
	MinSamples int
	// FailureRateThreshold opens the breaker when the window's failure
	// fraction meets or exceeds it (window occupancy >= MinSamples).
	FailureRateThreshold float64
	// SlowCallRateThreshold opens the breaker when the window's
	// slow-call fraction meets or exceeds it.
	SlowCallRateThreshold float64
	// SlowCallDuration is the call latency above which a successful
	// call still counts as "slow" for SlowCallRateThreshold purposes.
	SlowCallDuration time.Duration

	// OnStateChange is invoked (in a new goroutine) on every transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
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

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	cp := *c
	if cp.Threshold <= 0 {
		cp.Threshold = 5
	}
	if cp.Timeout <= 0 {
		cp.Timeout = 30 * time.Second
	}
	if cp.ResetTimeout <= 0 {
		cp.ResetTimeout = 60 * time.Second
	}
	if cp.HalfOpenMaxCalls <= 0 {
		cp.HalfOpenMaxCalls = 3
	}
	if cp.HalfOpenSuccessThreshold <= 0 {
		cp.HalfOpenSuccessThreshold = 1
	}
	if cp.HalfOpenSuccessThreshold > cp.HalfOpenMaxCalls {
		// Can never observe more successes than probes admitted.
		cp.HalfOpenSuccessThreshold = cp.HalfOpenMaxCalls
	}
	if cp.WindowSize <= 0 {
		cp.WindowSize = 20
	}
	if cp.MinSamples <= 0 {
		cp.MinSamples = 5
	}
	if cp.FailureRateThreshold <= 0 {
		cp.FailureRateThreshold = 0.5
	}
	if cp.SlowCallRateThreshold <= 0 {
		cp.SlowCallRateThreshold = 0.5
	}
	if cp.SlowCallDuration <= 0 {
		cp.SlowCallDuration = 5 * time.Second
	}
	return &cp
}

// Breaker trips calls off after repeated failures and probes recovery
// with a bounded number of half-open calls.
type Breaker interface {
	Call(ctx context.Context, fn func() error) error
	CallWithResult(ctx context.Context, fn func() (any, error)) (any, error)
	State() State
	Reset()
	// Patterns returns a snapshot of currently tracked failure patterns.
	Patterns() []PatternStats
}

type outcome struct {
	success bool
	slow    bool
}

type circuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu                sync.RWMutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
	halfOpenSuccesses int
	window            []outcome
	classifier        *classifier
}

// New creates a Breaker for the named backend.
func New(name string, config *Config, logger *zap.Logger) Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &circuitBreaker{
		name:       name,
		config:     config.withDefaults(),
		logger:     logger,
		state:      StateClosed,
		classifier: newClassifier(),
	}
}

func (b *circuitBreaker) Call(ctx context.Context, fn func() error) error {
	_, err := b.CallWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

type callResult struct {
	result any
	err    error
}

func (b *circuitBreaker) CallWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan callResult, 1)
	go func() {
		result, err := fn()
		resultCh <- callResult{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		err := fmt.Errorf("call timed out: %w", callCtx.Err())
		b.afterCall(false, PatternTimeout, time.Since(start))
		return nil, err

	case res := <-resultCh:
		elapsed := time.Since(start)
		if res.err == nil {
			b.afterCall(true, PatternNone, elapsed)
			return res.result, nil
		}
		pattern := classify(res.err)
		b.afterCall(false, pattern, elapsed)
		return nil, res.err
	}
}

func (b *circuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.resetTimeoutLocked() {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			b.halfOpenSuccesses = 0
			b.logger.Info("breaker entering half-open", zap.String("backend", b.name))
			return nil
		}
		return ErrOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrHalfOpenLimit
		}
		b.halfOpenCallCount++
		return nil

	default:
		return fmt.Errorf("unknown breaker state: %v", b.state)
	}
}

// resetTimeoutLocked scales the base reset timeout by the dominant
// failure pattern's recovery strategy. Callers must hold b.mu.
func (b *circuitBreaker) resetTimeoutLocked() time.Duration {
	strategy, freq := b.classifier.dominantStrategy()
	return strategy.apply(b.config.ResetTimeout, freq)
}

func (b *circuitBreaker) afterCall(success bool, pattern Pattern, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pattern != PatternNone {
		b.classifier.record(pattern, elapsed)
	}

	// A client fault is the caller's mistake, not a backend failure:
	// it is reported to the caller but never counted against the
	// breaker.
	if pattern == PatternClientFault {
		return
	}

	slow := elapsed >= b.config.SlowCallDuration
	b.pushOutcome(outcome{success: success, slow: slow})

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *circuitBreaker) pushOutcome(o outcome) {
	b.window = append(b.window, o)
	if len(b.window) > b.config.WindowSize {
		b.window = b.window[len(b.window)-b.config.WindowSize:]
	}
}

// rates must be called with b.mu held.
func (b *circuitBreaker) rates() (failureRate, slowRate float64, samples int) {
	samples = len(b.window)
	if samples == 0 {
		return 0, 0, 0
	}
	var failures, slows int
	for _, o := range b.window {
		if !o.success {
			failures++
		}
		if o.slow {
			slows++
		}
	}
	return float64(failures) / float64(samples), float64(slows) / float64(samples), samples
}

func (b *circuitBreaker) onSuccess() {
	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenSuccessThreshold {
			b.logger.Info("breaker recovered", zap.String("backend", b.name))
			b.setState(StateClosed)
			b.failureCount = 0
			b.halfOpenCallCount = 0
			b.halfOpenSuccesses = 0
			b.window = nil
		}
	case StateOpen:
		b.logger.Warn("success observed while open", zap.String("backend", b.name))
	}
}

func (b *circuitBreaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		failureRate, slowRate, samples := b.rates()
		trip := b.failureCount >= b.config.Threshold
		if !trip && samples >= b.config.MinSamples {
			trip = failureRate >= b.config.FailureRateThreshold || slowRate >= b.config.SlowCallRateThreshold
		}
		if trip {
			b.logger.Warn("breaker opening",
				zap.String("backend", b.name),
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
				zap.Float64("failure_rate", failureRate),
				zap.Float64("slow_rate", slowRate),
			)
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("half-open probe failed, reopening", zap.String("backend", b.name))
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
		b.halfOpenSuccesses = 0
	case StateOpen:
		b.logger.Warn("failure observed while open", zap.String("backend", b.name))
	}
}

func (b *circuitBreaker) setState(newState State) {
	oldState := b.state
	b.state = newState
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

func (b *circuitBreaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *circuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.halfOpenSuccesses = 0
	b.window = nil
	b.classifier.reset()

	b.logger.Info("breaker reset", zap.String("backend", b.name), zap.String("from", oldState.String()))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

func (b *circuitBreaker) Patterns() []PatternStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.classifier.snapshot()
}
