package resilience

import (
	"sort"
	"sync"
	"time"
)

// Canonical dependency labels. Every outbound call site obtains its breaker
// from the [Registry] under one of these names so that health checks and
// metrics see a stable set.
const (
	DepLLM         = "llm"
	DepVoice       = "voice"
	DepPersistence = "persistence"
	DepCache       = "cache"
)

// DefaultConfigs returns the per-dependency breaker settings used when the
// configuration file does not override them. The cache breaker trips late and
// recovers fast because a degraded cache only costs latency; the persistence
// breaker tolerates more failures because writes are retried by callers.
func DefaultConfigs() []Config {
	return []Config{
		{Name: DepLLM, FailureThreshold: 5, FailureWindow: 60 * time.Second, RecoveryTimeout: 60 * time.Second, MaxRetries: 3},
		{Name: DepVoice, FailureThreshold: 3, FailureWindow: 30 * time.Second, RecoveryTimeout: 30 * time.Second, MaxRetries: 2},
		{Name: DepPersistence, FailureThreshold: 10, FailureWindow: 60 * time.Second, RecoveryTimeout: 30 * time.Second, MaxRetries: 3},
		{Name: DepCache, FailureThreshold: 20, FailureWindow: 60 * time.Second, RecoveryTimeout: 10 * time.Second, MaxRetries: 1},
	}
}

// Registry holds one named [CircuitBreaker] per outbound dependency.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a [Registry] pre-populated with one breaker per config.
// Configs sharing a name overwrite earlier ones, so callers can append
// file-level overrides after [DefaultConfigs].
func NewRegistry(cfgs ...Config) *Registry {
	r := &Registry{breakers: make(map[string]*CircuitBreaker, len(cfgs))}
	for _, cfg := range cfgs {
		r.breakers[cfg.Name] = NewCircuitBreaker(cfg)
	}
	return r
}

// Get returns the breaker registered under name, creating one with default
// settings on first use so call sites never receive nil.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(Config{Name: name})
	r.breakers[name] = cb
	return cb
}

// Snapshots returns a point-in-time view of every registered breaker, sorted
// by name for stable output.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// ResetAll forces every registered breaker back to closed. Intended for
// operator tooling and tests.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
