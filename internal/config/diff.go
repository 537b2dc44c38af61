package config

import "reflect"

// Diff describes what changed between two loaded configurations, split by
// whether a running process can apply the change.
type Diff struct {
	// Hot lists dotted keys whose new values take effect immediately:
	// the log level and the catalogue paths, which the process re-reads
	// on reload.
	Hot []string

	// Restart lists dotted keys that only take effect on process
	// restart, because the components they parameterise are wired once
	// at startup.
	Restart []string
}

// Empty reports whether the two configurations are identical.
func (d Diff) Empty() bool {
	return len(d.Hot) == 0 && len(d.Restart) == 0
}

// Compare reports what changed between old and next.
func Compare(old, next *Config) Diff {
	var d Diff

	if old.Logging.Level != next.Logging.Level {
		d.Hot = append(d.Hot, "logging.level")
	}
	if old.Logging.Format != next.Logging.Format {
		d.Restart = append(d.Restart, "logging.format")
	}
	if !reflect.DeepEqual(old.Catalog, next.Catalog) {
		d.Hot = append(d.Hot, "catalog")
	}

	restart := []struct {
		key      string
		old, new any
	}{
		{"store", old.Store, next.Store},
		{"tracking", old.Tracking, next.Tracking},
		{"orchestrator", old.Orchestrator, next.Orchestrator},
		{"llm", old.LLM, next.LLM},
		{"voice", old.Voice, next.Voice},
		{"cache", old.Cache, next.Cache},
		{"breaker", old.Breaker, next.Breaker},
		{"bandit", old.Bandit, next.Bandit},
		{"predictor", old.Predictor, next.Predictor},
		{"drift", old.Drift, next.Drift},
		{"retrain", old.Retrain, next.Retrain},
		{"observe", old.Observe, next.Observe},
	}
	for _, s := range restart {
		if !reflect.DeepEqual(s.old, s.new) {
			d.Restart = append(d.Restart, s.key)
		}
	}
	return d
}
