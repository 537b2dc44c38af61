package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/empathy"
	"github.com/cierra-ai/cierra/internal/resilience"
)

// Pinger is the probe surface of a persistence backend. The postgres store
// implements it; in-process stores have nothing to probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports whether the session store can reach its backend. A nil
// pinger means the store is in-process and always healthy.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if p == nil {
				return nil
			}
			return p.Ping(ctx)
		},
	}
}

// CacheChecker round-trips a probe value through c. The probe key carries a
// nanosecond timestamp so concurrent probes never collide.
func CacheChecker(c cache.Cache) Checker {
	return Checker{
		Name: "cache",
		Check: func(ctx context.Context) error {
			key := "health-probe-" + strconv.FormatInt(time.Now().UnixNano(), 10)
			if err := c.Set(ctx, cache.NSStaticKnowledge, key, []byte("ok")); err != nil {
				return fmt.Errorf("set: %w", err)
			}
			v, ok, err := c.Get(ctx, cache.NSStaticKnowledge, key)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			if !ok || string(v) != "ok" {
				return errors.New("probe value did not round-trip")
			}
			_ = c.Delete(ctx, cache.NSStaticKnowledge, key)
			return nil
		},
	}
}

// BreakerChecker reports ready only while the breaker for dep is not open. A
// half-open breaker is already probing the dependency again and counts as
// ready.
func BreakerChecker(reg *resilience.Registry, dep string) Checker {
	return Checker{
		Name: dep + "_breaker",
		Check: func(_ context.Context) error {
			if reg.Get(dep).State() == resilience.StateOpen {
				return fmt.Errorf("%s breaker is open", dep)
			}
			return nil
		},
	}
}

// CatalogueChecker reports whether the composer holds a usable template
// catalogue. An empty catalogue would reduce every reply to its raw LLM text.
func CatalogueChecker(comp *empathy.Composer) Checker {
	return Checker{
		Name: "catalogue",
		Check: func(_ context.Context) error {
			cat := comp.Catalogue()
			if cat == nil || len(cat.Templates) == 0 {
				return errors.New("no templates loaded")
			}
			return nil
		},
	}
}

// RegisterBreakers adds GET /breakers to mux, serving every breaker's
// point-in-time snapshot as a JSON array. States and counters come straight
// from [resilience.Registry.Snapshots].
func RegisterBreakers(mux *http.ServeMux, reg *resilience.Registry) {
	mux.HandleFunc("GET /breakers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reg.Snapshots())
	})
}
