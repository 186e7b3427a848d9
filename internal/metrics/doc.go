// Package metrics provides Prometheus instrumentation for the router:
// request outcomes, backend call latency and cost, circuit breaker
// transitions, cache hit/miss rates, and usage ledger queue health.
//
// A single Collector registers every series through promauto against
// the default registry and exposes one Record method per concern; it
// carries no HTTP handler, so serving /metrics is left to whatever
// front end embeds this package.
package metrics
