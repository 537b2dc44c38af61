package config_test

import (
	"testing"
	"time"

	"github.com/cierra-ai/cierra/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel("verbose"), false},
		{config.LogLevel(""), false},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestLogFormat_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format config.LogFormat
		want   bool
	}{
		{config.LogText, true},
		{config.LogJSON, true},
		{config.LogFormat("xml"), false},
		{config.LogFormat(""), false},
	}
	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.want {
			t.Errorf("LogFormat(%q).IsValid() = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestStoreDriver_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		driver config.StoreDriver
		want   bool
	}{
		{config.StoreMemory, true},
		{config.StorePostgres, true},
		{config.StoreDriver("redis"), false},
		{config.StoreDriver(""), false},
	}
	for _, tt := range tests {
		if got := tt.driver.IsValid(); got != tt.want {
			t.Errorf("StoreDriver(%q).IsValid() = %v, want %v", tt.driver, got, tt.want)
		}
	}
}

func TestTrackingSink_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sink config.TrackingSink
		want bool
	}{
		{config.SinkStore, true},
		{config.SinkFile, true},
		{config.TrackingSink("kafka"), false},
		{config.TrackingSink(""), false},
	}
	for _, tt := range tests {
		if got := tt.sink.IsValid(); got != tt.want {
			t.Errorf("TrackingSink(%q).IsValid() = %v, want %v", tt.sink, got, tt.want)
		}
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate(DefaultConfig()) = %v, want nil", err)
	}

	if got, want := cfg.Orchestrator.RequestDeadlineMS, 8000; got != want {
		t.Errorf("request_deadline_ms: got %d, want %d", got, want)
	}
	if got, want := cfg.Orchestrator.SessionIdleTimeoutS, 1800; got != want {
		t.Errorf("session_idle_timeout_s: got %d, want %d", got, want)
	}
	if got, want := cfg.Observe.MetricsAddr, ":9464"; got != want {
		t.Errorf("metrics_addr: got %q, want %q", got, want)
	}
	if got, want := cfg.Observe.HealthAddr, ":8081"; got != want {
		t.Errorf("health_addr: got %q, want %q", got, want)
	}
	if got, want := cfg.Store.Driver, config.StoreMemory; got != want {
		t.Errorf("store.driver: got %q, want %q", got, want)
	}
	if got, want := cfg.Retrain.HoldoutFraction, 0.2; got != want {
		t.Errorf("retrain.holdout_fraction: got %v, want %v", got, want)
	}
}

func TestOrchestratorConfig_Durations(t *testing.T) {
	t.Parallel()
	c := config.OrchestratorConfig{
		RequestDeadlineMS:   6000,
		StageDeadlineMS:     1500,
		FanInBarrierMS:      2000,
		SessionIdleTimeoutS: 900,
	}
	if got, want := c.RequestDeadline(), 6*time.Second; got != want {
		t.Errorf("RequestDeadline() = %v, want %v", got, want)
	}
	if got, want := c.StageDeadline(), 1500*time.Millisecond; got != want {
		t.Errorf("StageDeadline() = %v, want %v", got, want)
	}
	if got, want := c.FanInBarrier(), 2*time.Second; got != want {
		t.Errorf("FanInBarrier() = %v, want %v", got, want)
	}
	if got, want := c.SessionIdleTimeout(), 15*time.Minute; got != want {
		t.Errorf("SessionIdleTimeout() = %v, want %v", got, want)
	}
}

func TestEntryDurations(t *testing.T) {
	t.Parallel()
	if got, want := (config.CacheEntry{TTLSeconds: 600}).TTL(), 10*time.Minute; got != want {
		t.Errorf("CacheEntry.TTL() = %v, want %v", got, want)
	}
	b := config.BreakerEntry{WindowS: 30, RecoveryS: 45}
	if got, want := b.Window(), 30*time.Second; got != want {
		t.Errorf("BreakerEntry.Window() = %v, want %v", got, want)
	}
	if got, want := b.Recovery(), 45*time.Second; got != want {
		t.Errorf("BreakerEntry.Recovery() = %v, want %v", got, want)
	}
	d := config.DriftConfig{CheckIntervalS: 600, WindowHours: 12}
	if got, want := d.CheckInterval(), 10*time.Minute; got != want {
		t.Errorf("DriftConfig.CheckInterval() = %v, want %v", got, want)
	}
	if got, want := d.Window(), 12*time.Hour; got != want {
		t.Errorf("DriftConfig.Window() = %v, want %v", got, want)
	}
}
