package cache

import (
	"context"

	router "github.com/modelmesh/router"
)

// Coalesce is the orchestrator-facing entry point into the cache: it
// fingerprints req, returns a stored response on a hit, and otherwise
// invokes build at most once even under concurrent callers sharing the
// same fingerprint (single-flight), storing and returning its result.
// A response served from the cache or from another caller's build is
// marked CacheHit and reports zero usage and cost.
//
// This is the one place cache.Cache is allowed to know about
// router.Request/Response: the orchestrator depends on the
// router.ResponseStore interface, never on *Cache directly, which is
// what keeps package router free of an import cycle back to cache.
func (c *Cache) Coalesce(ctx context.Context, req *router.Request, build func(context.Context) (*router.Response, error)) (*router.Response, bool, error) {
	key := Fingerprint(req)

	rec, shared, err := c.GetOrBuild(ctx, key, func(ctx context.Context) (*ResponseRecord, error) {
		resp, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return &ResponseRecord{
			Backend:          resp.Backend,
			Text:             resp.Text,
			Tokens:           resp.Usage.TotalTokens,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Cost:             resp.Cost,
		}, nil
	})
	if err != nil {
		return nil, false, err
	}

	resp := &router.Response{
		RequestID: req.RequestID,
		Backend:   rec.Backend,
		Text:      rec.Text,
		Usage: router.Usage{
			PromptTokens:     rec.PromptTokens,
			CompletionTokens: rec.CompletionTokens,
			TotalTokens:      rec.Tokens,
		},
		CacheHit: shared,
		Cost:     rec.Cost,
	}
	if shared {
		// No backend call was made for this caller: it consumed no new
		// tokens and costs nothing.
		resp.Usage = router.Usage{}
		resp.Cost = 0
	}
	return resp, shared, nil
}
