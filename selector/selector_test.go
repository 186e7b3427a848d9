package selector

import (
	"context"
	"testing"
	"time"

	router "github.com/modelmesh/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	tags     []string
	cost     float64
	latency  time.Duration
	priority int
}

func (f *fakeProvider) Available(ctx context.Context) bool { return true }
func (f *fakeProvider) EstimateCost(in, out int) float64   { return f.cost }
func (f *fakeProvider) LatencyScore() time.Duration         { return f.latency }
func (f *fakeProvider) Send(ctx context.Context, req *router.Request) (*router.Response, error) {
	return &router.Response{Text: "ok", Backend: f.name}, nil
}
func (f *fakeProvider) ValidateConfig() error { return nil }
func (f *fakeProvider) Info() router.BackendDescriptor {
	return router.BackendDescriptor{Name: f.name, Tags: f.tags, MaxContext: 8000, Enabled: true, Priority: f.priority}
}

type fakeHealth struct{ unhealthy map[string]bool }

func (h *fakeHealth) IsHealthy(ctx context.Context, name string) bool { return !h.unhealthy[name] }

func TestSelectOrdersByDescendingScore(t *testing.T) {
	s := New(DefaultWeights(), nil, nil)
	s.Register(&fakeProvider{name: "expensive", cost: 10, latency: 200 * time.Millisecond})
	s.Register(&fakeProvider{name: "cheap", cost: 0.01, latency: 50 * time.Millisecond})

	plan := s.Select(context.Background(), 100, 100, nil, "")
	require.Len(t, plan.Candidates, 2)
	assert.Equal(t, "cheap", plan.Candidates[0].name)
	assert.Equal(t, "expensive", plan.Candidates[1].name)
}

func TestSelectFiltersByTag(t *testing.T) {
	s := New(DefaultWeights(), nil, nil)
	s.Register(&fakeProvider{name: "vision", tags: []string{"vision"}})
	s.Register(&fakeProvider{name: "text", tags: []string{"text"}})

	plan := s.Select(context.Background(), 1, 1, []string{"vision"}, "")
	require.Len(t, plan.Candidates, 1)
	assert.Equal(t, "vision", plan.Candidates[0].name)
}

func TestSelectFiltersUnhealthy(t *testing.T) {
	h := &fakeHealth{unhealthy: map[string]bool{"down": true}}
	s := New(DefaultWeights(), h, nil)
	s.Register(&fakeProvider{name: "down"})
	s.Register(&fakeProvider{name: "up"})

	plan := s.Select(context.Background(), 1, 1, nil, "")
	require.Len(t, plan.Candidates, 1)
	assert.Equal(t, "up", plan.Candidates[0].name)
}

func TestSelectAllUnhealthyIsEmpty(t *testing.T) {
	h := &fakeHealth{unhealthy: map[string]bool{"a": true, "b": true}}
	s := New(DefaultWeights(), h, nil)
	s.Register(&fakeProvider{name: "a"})
	s.Register(&fakeProvider{name: "b"})

	plan := s.Select(context.Background(), 1, 1, nil, "")
	assert.True(t, plan.Empty())
}

func TestPreferBackendSortsFirst(t *testing.T) {
	s := New(DefaultWeights(), nil, nil)
	s.Register(&fakeProvider{name: "cheap", cost: 0.01})
	s.Register(&fakeProvider{name: "preferred", cost: 5})

	plan := s.Select(context.Background(), 1, 1, nil, "preferred")
	require.Len(t, plan.Candidates, 2)
	assert.Equal(t, "preferred", plan.Candidates[0].name)
}

func TestSelectExcludesDisabledBackends(t *testing.T) {
	s := New(DefaultWeights(), nil, nil)
	s.Register(&fakeProvider{name: "enabled"})
	plan := s.Select(context.Background(), 1, 1, nil, "")
	require.Len(t, plan.Candidates, 1)

	s2 := &Selector{weights: DefaultWeights(), candidates: map[string]candidate{}, logger: s.logger}
	s2.candidates["disabled"] = candidate{provider: &fakeProvider{name: "disabled"}, info: router.BackendDescriptor{Name: "disabled", Enabled: false}}
	s2.order = []string{"disabled"}
	plan2 := s2.Select(context.Background(), 1, 1, nil, "")
	assert.True(t, plan2.Empty())
}

func TestSelectTieBreaksByPriorityThenName(t *testing.T) {
	s := New(DefaultWeights(), nil, nil)
	s.Register(&fakeProvider{name: "z-backend", cost: 1, priority: 5})
	s.Register(&fakeProvider{name: "a-backend", cost: 1, priority: 5})
	s.Register(&fakeProvider{name: "low-priority", cost: 1, priority: 1})

	plan := s.Select(context.Background(), 1, 1, nil, "")
	require.Len(t, plan.Candidates, 3)
	assert.Equal(t, "low-priority", plan.Candidates[0].name)
	assert.Equal(t, "a-backend", plan.Candidates[1].name)
	assert.Equal(t, "z-backend", plan.Candidates[2].name)
}
