// Package router implements a backend-routing middleware for text
// completion requests. It selects one of several remote completion
// services by cost, latency and availability, forwards the request,
// caches the reply and records usage.
//
// The Orchestrator type is the entry point: it wires together the
// circuit breaker, health monitor, selector, cache, ledger and request
// pipeline and exposes a single Complete call.
package router
