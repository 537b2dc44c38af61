package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or
// sits behind an open circuit breaker.
var ErrAllFailed = errors.New("every provider in the chain failed")

// FallbackConfig carries the circuit breaker settings applied to each entry
// of a [FallbackGroup]. The entry name always overrides Config.Name.
type FallbackConfig struct {
	CircuitBreaker Config
}

// FallbackGroup chains a primary and zero or more fallback instances of one
// provider type. Every entry runs behind its own circuit breaker, so a
// provider that keeps failing is skipped outright until its breaker lets a
// probe through.
//
// Entries are tried strictly in registration order. The group is safe for
// concurrent use once assembled; AddFallback must not race with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// fallbackEntry pairs one provider with its dedicated breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends one more provider to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(bc),
	})
}

// Execute tries fn against each entry in order until one succeeds. Entries
// with an open breaker are skipped without calling fn. When the whole chain
// fails, the returned error wraps [ErrAllFailed] and carries the last cause.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because Go does not support
// method-level type parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		result, err := Do(entry.breaker, func() (R, error) {
			return fn(entry.value)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, breaker open", "provider", entry.name)
		case i < len(fg.entries)-1:
			slog.Warn("provider failed, trying next in chain",
				"provider", entry.name, "error", err)
		default:
			slog.Warn("last provider in chain failed",
				"provider", entry.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w (last: %v)", ErrAllFailed, lastErr)
}
