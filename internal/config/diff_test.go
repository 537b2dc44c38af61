package config_test

import (
	"slices"
	"testing"

	"github.com/cierra-ai/cierra/internal/config"
)

func TestCompare_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.DefaultConfig()
	next := config.DefaultConfig()

	d := config.Compare(old, next)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got hot=%v restart=%v", d.Hot, d.Restart)
	}
}

func TestCompare_LogLevelIsHot(t *testing.T) {
	t.Parallel()
	old := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Logging.Level = config.LogDebug

	d := config.Compare(old, next)
	if !slices.Contains(d.Hot, "logging.level") {
		t.Errorf("Hot should contain logging.level, got %v", d.Hot)
	}
	if len(d.Restart) != 0 {
		t.Errorf("Restart should be empty, got %v", d.Restart)
	}
}

func TestCompare_CatalogIsHot(t *testing.T) {
	t.Parallel()
	old := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Catalog.TemplatesPath = "configs/templates-v2.yaml"

	d := config.Compare(old, next)
	if !slices.Contains(d.Hot, "catalog") {
		t.Errorf("Hot should contain catalog, got %v", d.Hot)
	}
}

func TestCompare_RestartSections(t *testing.T) {
	t.Parallel()
	old := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Logging.Format = config.LogJSON
	next.Store.Driver = config.StorePostgres
	next.Orchestrator.RequestDeadlineMS = 4000
	next.LLM.Provider.Model = "gpt-4o"
	next.Breaker = map[string]config.BreakerEntry{"llm": {Threshold: 3}}

	d := config.Compare(old, next)
	for _, want := range []string{"logging.format", "store", "orchestrator", "llm", "breaker"} {
		if !slices.Contains(d.Restart, want) {
			t.Errorf("Restart should contain %s, got %v", want, d.Restart)
		}
	}
	if len(d.Hot) != 0 {
		t.Errorf("Hot should be empty, got %v", d.Hot)
	}
}

func TestCompare_MixedHotAndRestart(t *testing.T) {
	t.Parallel()
	old := config.DefaultConfig()
	next := config.DefaultConfig()
	next.Logging.Level = config.LogError
	next.Observe.MetricsAddr = ":9999"

	d := config.Compare(old, next)
	if !slices.Contains(d.Hot, "logging.level") {
		t.Errorf("Hot should contain logging.level, got %v", d.Hot)
	}
	if !slices.Contains(d.Restart, "observe") {
		t.Errorf("Restart should contain observe, got %v", d.Restart)
	}
}
