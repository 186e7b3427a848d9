// Package selector scores and orders candidate backends for a request.
// Selection is deterministic: candidates are filtered, scored, then
// tried in strict descending-score order so that a fallback sequence is
// reproducible given the same health and cost inputs.
package selector

import (
	"context"
	"sort"

	router "github.com/modelmesh/router"
	"go.uber.org/zap"
)

// Weights controls the composite score's blend of cost, latency and
// availability. The defaults match the common industry convention of
// weighting cost and latency equally and availability less heavily.
type Weights struct {
	Cost         float64
	Latency      float64
	Availability float64
}

// DefaultWeights returns the standard 0.4/0.4/0.2 blend.
func DefaultWeights() Weights {
	return Weights{Cost: 0.4, Latency: 0.4, Availability: 0.2}
}

// HealthSource reports a cached liveness score for a backend name.
// health.Monitor satisfies this.
type HealthSource interface {
	IsHealthy(ctx context.Context, name string) bool
}

// candidate binds a provider to its static descriptor.
type candidate struct {
	provider router.Provider
	info     router.BackendDescriptor
}

// Selector holds the registered backend candidates and produces an
// ordered dispatch sequence per request.
type Selector struct {
	weights Weights
	health  HealthSource
	logger  *zap.Logger

	candidates map[string]candidate
	order      []string // insertion order, used as a stable tie-break
}

// New creates a Selector. A nil HealthSource treats every candidate as
// healthy.
func New(weights Weights, health HealthSource, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		weights:    weights,
		health:     health,
		logger:     logger,
		candidates: make(map[string]candidate),
	}
}

// Register adds a backend candidate.
func (s *Selector) Register(p router.Provider) {
	info := p.Info()
	if _, exists := s.candidates[info.Name]; !exists {
		s.order = append(s.order, info.Name)
	}
	s.candidates[info.Name] = candidate{provider: p, info: info}
}

// SetHealth attaches (or replaces) the HealthSource consulted during
// Select. Used when the health monitor is only available after the
// Selector itself has been constructed and its candidates registered,
// e.g. because it lives behind the same orchestrator being built from
// these candidates.
func (s *Selector) SetHealth(h HealthSource) {
	s.health = h
}

// Unregister removes a backend candidate.
func (s *Selector) Unregister(name string) {
	delete(s.candidates, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// scored pairs a candidate with its composite score for one request.
type scored struct {
	name     string
	provider router.Provider
	score    float64
	priority int
}

// Plan is the ordered, filtered dispatch sequence for one request.
type Plan struct {
	Candidates []scored
}

// Names returns the candidate names in dispatch order.
func (p Plan) Names() []string {
	out := make([]string, len(p.Candidates))
	for i, c := range p.Candidates {
		out[i] = c.name
	}
	return out
}

// Empty reports whether the plan has no eligible candidates.
func (p Plan) Empty() bool { return len(p.Candidates) == 0 }

// Providers returns the candidate providers in order.
func (p Plan) Providers() []router.Provider {
	out := make([]router.Provider, len(p.Candidates))
	for i, c := range p.Candidates {
		out[i] = c.provider
	}
	return out
}

// Select filters candidates by tag, enablement and health, scores the
// survivors, and returns them in strict descending-score order. Ties
// are broken by descriptor priority (lower value preferred first),
// then by name.
func (s *Selector) Select(ctx context.Context, tokensIn, tokensOut int, requiredTags []string, preferBackend string) Plan {
	var pool []scored

	for _, name := range s.order {
		c, ok := s.candidates[name]
		if !ok {
			continue
		}
		if !c.info.Enabled {
			continue
		}
		if !hasAllTags(c.info.Tags, requiredTags) {
			continue
		}
		if s.health != nil && !s.health.IsHealthy(ctx, name) {
			continue
		}

		sc := s.score(ctx, c, tokensIn, tokensOut)
		if name == preferBackend {
			sc += 1000 // pinned backend always sorts first among eligible candidates
		}
		pool = append(pool, scored{name: name, provider: c.provider, score: sc, priority: c.info.Priority})
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		if pool[i].priority != pool[j].priority {
			return pool[i].priority < pool[j].priority
		}
		return pool[i].name < pool[j].name
	})

	return Plan{Candidates: pool}
}

func (s *Selector) score(ctx context.Context, c candidate, tokensIn, tokensOut int) float64 {
	cost := c.provider.EstimateCost(tokensIn, tokensOut)
	costScore := 1.0 / (1.0 + cost)

	latency := c.provider.LatencyScore()
	latencyScore := 1.0 / (1.0 + latency.Seconds())

	availScore := 1.0
	if s.health != nil && !s.health.IsHealthy(ctx, c.info.Name) {
		availScore = 0.0
	}

	return costScore*s.weights.Cost + latencyScore*s.weights.Latency + availScore*s.weights.Availability
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// Len reports how many candidates are registered.
func (s *Selector) Len() int { return len(s.candidates) }

// Candidates satisfies router.CandidatePool: it runs Select and returns
// only the ordered provider list, so package router can depend on the
// interface without importing this package (which itself imports
// router for Provider/Request) and forming a cycle.
func (s *Selector) Candidates(ctx context.Context, tokensIn, tokensOut int, requiredTags []string, preferBackend string) []router.Provider {
	return s.Select(ctx, tokensIn, tokensOut, requiredTags, preferBackend).Providers()
}
