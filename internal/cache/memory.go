package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cierra-ai/cierra/internal/observe"
)

// Compile-time interface check.
var _ Cache = (*Memory)(nil)

// Memory is the in-process cache: one expirable LRU per namespace. Expiry is
// handled by the LRU itself; eviction happens on capacity pressure. Every
// lookup is counted as a hit or a miss per namespace.
//
// Safe for concurrent use (the underlying LRUs carry their own locks).
type Memory struct {
	spaces  map[Namespace]*expirable.LRU[string, []byte]
	metrics *observe.Metrics
}

// MemoryOption customises a [Memory] cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	ttls  map[Namespace]time.Duration
	sizes map[Namespace]int
}

// WithTTL overrides the TTL of one namespace.
func WithTTL(ns Namespace, ttl time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if ttl > 0 {
			o.ttls[ns] = ttl
		}
	}
}

// WithSize overrides the capacity of one namespace.
func WithSize(ns Namespace, size int) MemoryOption {
	return func(o *memoryOptions) {
		if size > 0 {
			o.sizes[ns] = size
		}
	}
}

// NewMemory creates a cache with every namespace provisioned at its default
// TTL and capacity, adjusted by opts.
func NewMemory(opts ...MemoryOption) *Memory {
	options := memoryOptions{
		ttls:  DefaultTTLs(),
		sizes: DefaultSizes(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	spaces := make(map[Namespace]*expirable.LRU[string, []byte], len(Namespaces))
	for _, ns := range Namespaces {
		spaces[ns] = expirable.NewLRU[string, []byte](options.sizes[ns], nil, options.ttls[ns])
	}
	return &Memory{spaces: spaces, metrics: observe.DefaultMetrics()}
}

// Get implements [Cache].
func (m *Memory) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	space, err := m.space(ns)
	if err != nil {
		return nil, false, err
	}
	val, ok := space.Get(key)
	m.metrics.RecordCacheLookup(ctx, string(ns), ok)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

// Set implements [Cache].
func (m *Memory) Set(ctx context.Context, ns Namespace, key string, value []byte) error {
	space, err := m.space(ns)
	if err != nil {
		return err
	}
	space.Add(key, append([]byte(nil), value...))
	return nil
}

// Delete implements [Cache].
func (m *Memory) Delete(ctx context.Context, ns Namespace, key string) error {
	space, err := m.space(ns)
	if err != nil {
		return err
	}
	space.Remove(key)
	return nil
}

// Invalidate implements [Cache].
func (m *Memory) Invalidate(ctx context.Context, ns Namespace, tag string) (int, error) {
	space, err := m.space(ns)
	if err != nil {
		return 0, err
	}
	prefix := tagPrefix(tag)
	removed := 0
	for _, key := range space.Keys() {
		if strings.HasPrefix(key, prefix) && space.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live entries in a namespace. Used by health
// checks and tests.
func (m *Memory) Len(ns Namespace) int {
	space, err := m.space(ns)
	if err != nil {
		return 0
	}
	return space.Len()
}

func (m *Memory) space(ns Namespace) (*expirable.LRU[string, []byte], error) {
	space, ok := m.spaces[ns]
	if !ok {
		return nil, fmt.Errorf("cache: unknown namespace %q", ns)
	}
	return space, nil
}
