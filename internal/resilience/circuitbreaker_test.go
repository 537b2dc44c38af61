package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fire drives one Execute per outcome, discarding the returned errors.
func fire(cb *CircuitBreaker, outcomes ...error) {
	for _, out := range outcomes {
		_ = cb.Execute(func() error { return out })
	}
}

func TestNewCircuitBreaker_AppliesDefaults(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "llm"})

	if cb.failureThreshold != 5 {
		t.Errorf("failureThreshold = %d, want the default 5", cb.failureThreshold)
	}
	if cb.failureWindow != time.Minute {
		t.Errorf("failureWindow = %v, want the default 1m", cb.failureWindow)
	}
	if cb.recoveryTimeout != time.Minute {
		t.Errorf("recoveryTimeout = %v, want the default 1m", cb.recoveryTimeout)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State() = %v, want a fresh breaker closed", got)
	}
	if got := cb.MaxRetries(); got != 0 {
		t.Errorf("MaxRetries() = %d, want 0 without config", got)
	}

	withRetries := NewCircuitBreaker(Config{Name: "llm", MaxRetries: 3})
	if got := withRetries.MaxRetries(); got != 3 {
		t.Errorf("MaxRetries() = %d, want 3", got)
	}
}

func TestExecute_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "llm", FailureThreshold: 3})

	ran := false
	if err := cb.Execute(func() error { ran = true; return nil }); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !ran {
		t.Fatal("closed breaker did not invoke fn")
	}
}

func TestExecute_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
	})

	fire(cb, errTest, errTest)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v below threshold, want closed", got)
	}

	fire(cb, errTest)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v at threshold, want open", got)
	}

	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
	if ran {
		t.Fatal("open breaker invoked fn")
	}
}

func TestExecute_SuccessBreaksTheStreak(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "llm", FailureThreshold: 3})

	fire(cb, errTest, errTest, nil, errTest, errTest)

	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v, want closed: the success in the middle restarts the count", got)
	}
}

func TestExecute_IdleStreakExpires(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 2,
		FailureWindow:    20 * time.Millisecond,
		RecoveryTimeout:  time.Hour,
	})

	fire(cb, errTest)
	time.Sleep(40 * time.Millisecond)
	fire(cb, errTest)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v, want closed: the first failure aged out of the window", got)
	}

	fire(cb, errTest)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open after two failures inside the window", got)
	}
}

func TestRecovery_SuccessfulProbeCloses(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	fire(cb, errTest, errTest)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	time.Sleep(60 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("State() = %v after the recovery timeout, want half-open", got)
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v after a successful probe, want closed", got)
	}
}

func TestRecovery_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 2,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	fire(cb, errTest, errTest)
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("probe returned %v, want the fn error", err)
	}

	// Re-opened: the recovery clock restarts, so callers are rejected again.
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() after failed probe = %v, want ErrCircuitOpen", err)
	}
	if snap := cb.Snapshot(); snap.State != "open" {
		t.Fatalf("Snapshot.State = %q after failed probe, want open", snap.State)
	}
}

func TestRecovery_OneProbeAtATime(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	fire(cb, errTest)
	time.Sleep(15 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	verdict := make(chan error, 1)
	go func() {
		verdict <- cb.Execute(func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() during probe = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-verdict; err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v once the probe resolved, want closed", got)
	}
}

func TestReset_ReturnsToService(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	})

	fire(cb, errTest, errTest)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open before reset", got)
	}

	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() = %v after Reset, want closed", got)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute() after Reset error: %v", err)
	}
}

func TestOnStateChange_FiresPerTransition(t *testing.T) {
	type change struct{ from, to State }
	var seen []change

	cb := NewCircuitBreaker(Config{
		Name:             "llm",
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			if name != "llm" {
				t.Errorf("hook name = %q, want %q", name, "llm")
			}
			seen = append(seen, change{from, to})
		},
	})

	fire(cb, errTest) // closed -> open
	time.Sleep(15 * time.Millisecond)
	fire(cb, nil)     // open -> half-open, then half-open -> closed
	fire(cb, errTest) // closed -> open
	cb.Reset()        // open -> closed
	cb.Reset()        // already closed, no call

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
		{StateClosed, StateOpen},
		{StateOpen, StateClosed},
	}
	if len(seen) != len(want) {
		t.Fatalf("hook fired %d times, want %d: %v", len(seen), len(want), seen)
	}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("transition[%d] = %v -> %v, want %v -> %v",
				i, seen[i].from, seen[i].to, w.from, w.to)
		}
	}
}

func TestSnapshot_Counters(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "persistence", FailureThreshold: 2, RecoveryTimeout: time.Hour})

	fire(cb, nil, errTest, errTest) // one success, two failures, now open
	fire(cb, nil)                   // short-circuited

	snap := cb.Snapshot()
	if snap.Name != "persistence" || snap.State != "open" {
		t.Errorf("Snapshot = %q/%q, want persistence/open", snap.Name, snap.State)
	}
	if snap.TotalSuccesses != 1 || snap.TotalFailures != 2 || snap.TotalShortCircuits != 1 {
		t.Errorf("counters = %d/%d/%d, want successes=1 failures=2 shortCircuits=1",
			snap.TotalSuccesses, snap.TotalFailures, snap.TotalShortCircuits)
	}
}

func TestExecute_CountsUnderConcurrency(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "llm", FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return errTest
				}
				return nil
			})
		}()
	}
	wg.Wait()

	snap := cb.Snapshot()
	if got := snap.TotalSuccesses + snap.TotalFailures; got != 50 {
		t.Errorf("recorded outcomes = %d, want 50", got)
	}
}

func TestDo(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "llm"})

	got, err := Do(cb, func() (string, error) { return "hola", nil })
	if err != nil || got != "hola" {
		t.Fatalf("Do() = %q, %v, want hola with nil error", got, err)
	}

	n, err := Do(cb, func() (int, error) { return 42, errTest })
	if !errors.Is(err, errTest) {
		t.Fatalf("Do() error = %v, want errTest", err)
	}
	if n != 0 {
		t.Errorf("Do() = %d on error, want the zero value", n)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
