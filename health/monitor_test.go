package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeProber struct{ healthy atomic.Bool }

func newFakeProber(healthy bool) *fakeProber {
	p := &fakeProber{}
	p.healthy.Store(healthy)
	return p
}

func (f *fakeProber) Available(ctx context.Context) bool { return f.healthy.Load() }

func TestMonitorCachesWithinTTL(t *testing.T) {
	m := New(&Config{TTL: time.Minute, ProbeTimeout: time.Second}, zap.NewNop())
	p := newFakeProber(true)
	m.Register("a", p)
	m.ForceCheck(context.Background())

	assert.True(t, m.IsHealthy(context.Background(), "a"))

	p.healthy.Store(false)
	// Still within TTL of the first probe: cached true should stick.
	assert.True(t, m.IsHealthy(context.Background(), "a"))
}

func TestMonitorRefreshesAfterTTL(t *testing.T) {
	m := New(&Config{TTL: 5 * time.Millisecond, ProbeTimeout: time.Second, MaxProbesPerSecond: 1000}, zap.NewNop())
	p := newFakeProber(true)
	m.Register("a", p)
	m.ForceCheck(context.Background())

	assert.True(t, m.IsHealthy(context.Background(), "a"))
	p.healthy.Store(false)
	time.Sleep(10 * time.Millisecond)

	// A stale score is still returned immediately rather than blocking
	// on a fresh probe...
	assert.True(t, m.IsHealthy(context.Background(), "a"))
	// ...while IsHealthy kicked off a background refresh; give it a
	// moment to land.
	assert.Eventually(t, func() bool {
		return !m.IsHealthy(context.Background(), "a")
	}, 200*time.Millisecond, time.Millisecond)
}

func TestMonitorUnknownBackendDefaultsHealthy(t *testing.T) {
	m := New(nil, zap.NewNop())
	assert.True(t, m.IsHealthy(context.Background(), "ghost"))
}

func TestMonitorNeverProbedDefaultsHealthyAndRefreshesAsync(t *testing.T) {
	m := New(&Config{TTL: time.Minute, ProbeTimeout: time.Second, MaxProbesPerSecond: 1000}, zap.NewNop())
	p := newFakeProber(false)
	m.Register("a", p)

	// Never probed: IsHealthy must not block on a synchronous probe, and
	// defaults to eligible.
	assert.True(t, m.IsHealthy(context.Background(), "a"))

	assert.Eventually(t, func() bool {
		snap := m.Snapshot()
		score, ok := snap["a"]
		return ok && !score.Healthy
	}, 200*time.Millisecond, time.Millisecond)
}

func TestMonitorStartStop(t *testing.T) {
	m := New(&Config{Interval: 5 * time.Millisecond, MaxProbesPerSecond: 1000}, zap.NewNop())
	m.Register("a", newFakeProber(true))

	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	snap := m.Snapshot()
	assert.Contains(t, snap, "a")
}
