// Package resilience wraps every outbound dependency of the request
// pipeline in circuit breakers and failover chains.
//
// [CircuitBreaker] implements the usual three states: closed while the
// dependency behaves, open once a failure streak trips it, half-open when
// the recovery timeout lets a single probe through. [Registry] keeps one
// named breaker per dependency with its own settings. [FallbackGroup]
// lines up alternative providers of one type behind per-entry breakers,
// so a dead primary gets stepped over instead of stalling the turn.
//
// Everything here is safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// in the open state, or when a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit open")

// State is the operating mode a [CircuitBreaker] is in.
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected
	// immediately with [ErrCircuitOpen] until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the recovery timeout.
	// Exactly one probe call is allowed through at a time; success closes the
	// breaker, failure re-opens it.
	StateHalfOpen
)

// String names the state for logs and snapshots.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the calling surface of a circuit breaker. It is an interface so
// tests can inject fault-injecting implementations.
type Breaker interface {
	// Execute runs fn if the breaker allows it, recording the outcome.
	Execute(fn func() error) error

	// State returns the breaker's current state.
	State() State

	// Name returns the dependency label the breaker protects.
	Name() string
}

// Compile-time interface check.
var _ Breaker = (*CircuitBreaker)(nil)

// Config holds tuning knobs for a [CircuitBreaker].
type Config struct {
	// Name is the dependency label used in logs and snapshots.
	Name string

	// FailureThreshold is the number of consecutive failures within
	// FailureWindow before the breaker opens. Default: 5.
	FailureThreshold int

	// FailureWindow bounds how old a failure streak may be and still count
	// toward the threshold. A streak idle longer than the window restarts.
	// Default: 60s.
	FailureWindow time.Duration

	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open probe. Default: 60s.
	RecoveryTimeout time.Duration

	// MaxRetries is the retry budget call sites may spend on this
	// dependency after a first failed attempt. The breaker itself records
	// one outcome per attempt; consult it via
	// [CircuitBreaker.MaxRetries]. Zero means no retries.
	MaxRetries int

	// OnStateChange is invoked on every state transition, including manual
	// resets. It runs synchronously with internal state held, so it must
	// not call back into the breaker. Metrics hook in here.
	OnStateChange func(name string, from, to State)
}

// Snapshot is a point-in-time view of a breaker, used by health checks and
// metrics.
type Snapshot struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
	HalfOpenProbeActive  bool      `json:"half_open_probe_in_flight"`
	TotalFailures        int64     `json:"total_failures"`
	TotalSuccesses       int64     `json:"total_successes"`
	TotalShortCircuits   int64     `json:"total_short_circuits"`
}

// CircuitBreaker implements the three-state circuit breaker pattern with
// windowed failure counting and a single half-open probe.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	failureWindow    time.Duration
	recoveryTimeout  time.Duration
	maxRetries       int
	onStateChange    func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	streakStart     time.Time
	openedAt        time.Time
	probeInFlight   bool

	totalFailures      int64
	totalSuccesses     int64
	totalShortCircuits int64
}

// NewCircuitBreaker builds a closed breaker from cfg, substituting defaults
// for zero-value tuning fields.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		failureWindow:    cfg.FailureWindow,
		recoveryTimeout:  cfg.RecoveryTimeout,
		maxRetries:       cfg.MaxRetries,
		onStateChange:    cfg.OnStateChange,
		state:            StateClosed,
	}
}

// setStateLocked transitions the breaker and fires the state-change hook.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	cb.state = to
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// MaxRetries returns the configured retry budget for the dependency this
// breaker protects.
func (cb *CircuitBreaker) MaxRetries() int {
	return cb.maxRetries
}

// Execute runs fn unless the breaker refuses the call. While open it
// rejects with [ErrCircuitOpen] and never invokes fn. While half-open a
// single probe may run; concurrent callers are rejected until it resolves.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.recoveryTimeout {
			cb.totalShortCircuits++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.setStateLocked(StateHalfOpen)
		cb.probeInFlight = false
		slog.Info("breaker letting a probe through", "name", cb.name)

	case StateHalfOpen:
		if cb.probeInFlight {
			cb.totalShortCircuits++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	isProbe := cb.state == StateHalfOpen
	if isProbe {
		cb.probeInFlight = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure(isProbe)
	} else {
		cb.recordSuccess(isProbe)
	}
	return err
}

// recordFailure books one failed attempt. Caller holds cb.mu.
func (cb *CircuitBreaker) recordFailure(isProbe bool) {
	now := time.Now()
	cb.totalFailures++

	if isProbe {
		// Probe failed: re-open and restart the recovery timer.
		cb.probeInFlight = false
		cb.setStateLocked(StateOpen)
		cb.openedAt = now
		cb.consecutiveFail = cb.failureThreshold
		slog.Warn("breaker probe failed, re-opening", "name", cb.name)
		return
	}
	if cb.state != StateClosed {
		return
	}

	// A streak that has gone quiet longer than the window starts over.
	if cb.consecutiveFail == 0 || now.Sub(cb.streakStart) > cb.failureWindow {
		cb.consecutiveFail = 0
		cb.streakStart = now
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.failureThreshold {
		cb.setStateLocked(StateOpen)
		cb.openedAt = now
		slog.Warn("breaker tripped open",
			"name", cb.name,
			"failures", cb.consecutiveFail)
	}
}

// recordSuccess books one successful attempt. Caller holds cb.mu.
func (cb *CircuitBreaker) recordSuccess(isProbe bool) {
	cb.totalSuccesses++

	if isProbe {
		cb.probeInFlight = false
		cb.setStateLocked(StateClosed)
		cb.consecutiveFail = 0
		slog.Info("breaker closed after successful probe", "name", cb.name)
		return
	}
	cb.consecutiveFail = 0
}

// State returns the current [State] of the breaker. If the breaker is open
// and the recovery timeout has elapsed, the returned state is [StateHalfOpen]
// (the actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.recoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the dependency label the breaker protects.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Snapshot returns a point-in-time view of the breaker's counters and state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFail,
		OpenedAt:            cb.openedAt,
		HalfOpenProbeActive: cb.probeInFlight,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		TotalShortCircuits:  cb.totalShortCircuits,
	}
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setStateLocked(StateClosed)
	cb.consecutiveFail = 0
	cb.probeInFlight = false
	slog.Info("breaker reset by operator", "name", cb.name)
}

// Do runs fn under the breaker and carries its result out. It is a
// package-level function because Go does not support method-level type
// parameters.
func Do[T any](b Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
