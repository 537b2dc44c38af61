// Package cache provides the namespaced read-through cache used across the
// request pipeline. Each namespace carries its own TTL and size budget, so
// short-lived prediction entries never crowd out long-lived static knowledge.
//
// Values are opaque byte slices (callers JSON-encode what they store), which
// keeps the interface identical for the in-process implementation and any
// future remote one. Tag-based invalidation works through key construction:
// keys built with [Key] start with their tag, and [Cache.Invalidate] removes
// every entry in a namespace sharing a tag.
package cache

import (
	"context"
	"strings"
	"time"
)

// Namespace identifies one cache region with its own TTL and size budget.
type Namespace string

// The namespaces of the request pipeline.
const (
	// NSSession holds hot session state snapshots.
	NSSession Namespace = "session"

	// NSTierDecision holds tier analyzer outputs.
	NSTierDecision Namespace = "tier_decision"

	// NSPrediction holds ML prediction outputs; short-lived because the
	// conversation moves under them.
	NSPrediction Namespace = "prediction"

	// NSEmpathyFragment holds composed empathy fragments.
	NSEmpathyFragment Namespace = "empathy_fragment"

	// NSStaticKnowledge holds product/tier facts that change rarely.
	NSStaticKnowledge Namespace = "static_knowledge"

	// NSIdempotency holds SendMessage replies keyed by idempotency key for
	// duplicate-delivery replay.
	NSIdempotency Namespace = "idempotency"

	// NSLLMResponse holds recent LLM completions keyed by prompt fingerprint,
	// reused as breaker fallback material.
	NSLLMResponse Namespace = "llm_response"
)

// Namespaces lists every namespace a cache must provision.
var Namespaces = []Namespace{
	NSSession,
	NSTierDecision,
	NSPrediction,
	NSEmpathyFragment,
	NSStaticKnowledge,
	NSIdempotency,
	NSLLMResponse,
}

// DefaultTTLs returns the per-namespace entry lifetimes.
func DefaultTTLs() map[Namespace]time.Duration {
	return map[Namespace]time.Duration{
		NSSession:         30 * time.Minute,
		NSTierDecision:    30 * time.Minute,
		NSPrediction:      5 * time.Minute,
		NSEmpathyFragment: 2 * time.Hour,
		NSStaticKnowledge: 24 * time.Hour,
		NSIdempotency:     30 * time.Minute,
		NSLLMResponse:     10 * time.Minute,
	}
}

// DefaultSizes returns the per-namespace entry capacity.
func DefaultSizes() map[Namespace]int {
	return map[Namespace]int{
		NSSession:         4096,
		NSTierDecision:    8192,
		NSPrediction:      8192,
		NSEmpathyFragment: 512,
		NSStaticKnowledge: 256,
		NSIdempotency:     16384,
		NSLLMResponse:     2048,
	}
}

// Cache is the namespaced byte cache. Implementations must be safe for
// concurrent use. All errors are infrastructure errors; a clean miss is
// (nil, false, nil).
type Cache interface {
	// Get returns the value at key, reporting whether it was present and
	// unexpired.
	Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error)

	// Set stores value at key under the namespace TTL, replacing any
	// existing entry.
	Set(ctx context.Context, ns Namespace, key string, value []byte) error

	// Delete removes the entry at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Invalidate removes every entry in the namespace whose key carries tag
	// (keys built with [Key]). Returns the number of entries removed.
	Invalidate(ctx context.Context, ns Namespace, tag string) (int, error)
}

// keySep separates the tag from the rest of a key. Tags must not contain it.
const keySep = "|"

// Key builds a cache key whose leading tag supports [Cache.Invalidate].
// Typical tags are session ids or model ids.
func Key(tag string, parts ...string) string {
	if len(parts) == 0 {
		return tag + keySep
	}
	return tag + keySep + strings.Join(parts, keySep)
}

// tagPrefix returns the prefix shared by all keys built from tag.
func tagPrefix(tag string) string {
	return tag + keySep
}
