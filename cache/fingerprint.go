package cache

import (
	router "github.com/modelmesh/router"
)

// Fingerprint computes the deterministic cache key for a request. It
// delegates to router.Fingerprint so the root package's ledger writes
// and this package's cache keys are always computed the same way; a
// request's fingerprint does not depend on which component asks for it.
func Fingerprint(req *router.Request) string {
	return router.Fingerprint(req)
}
