// Package health serves the agent's operational probe endpoints.
//
//   - /healthz: liveness; a process that can answer HTTP is alive, so the
//     handler always returns 200.
//   - /readyz: readiness; 200 only while every registered [Checker] passes.
//   - /breakers: circuit breaker snapshots for operator diagnosis.
//
// Probe responses are JSON objects with a top-level "status" of "ok" or
// "fail" and, for readiness, a "checks" map with one entry per named
// checker. The checkers for the agent's own dependencies (session store,
// cache, LLM breaker, template catalogue) live in checks.go alongside the
// breaker snapshot handler.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// perCheckTimeout bounds one readiness check. Checks run concurrently, so it
// also roughly bounds the whole /readyz response.
const perCheckTimeout = 5 * time.Second

// Probe statuses reported in the "status" field.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Checker is one named readiness check. Check returns nil while the
// dependency is usable and an error describing the problem otherwise; it
// must respect context cancellation.
type Checker struct {
	// Name keys the check's verdict in the JSON response, e.g. "store" or
	// "catalogue".
	Name string

	Check func(ctx context.Context) error
}

// report is the JSON body of a probe response.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the liveness and readiness probes. The checker list is
// fixed at construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	return h
}

// Register adds the probe routes to mux. The breaker snapshot route is
// registered separately via [RegisterBreakers], since not every deployment
// carries a breaker registry.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: statusOK})
}

// Readyz fans the checkers out concurrently, each under its own
// [perCheckTimeout], and answers 503 as soon as any verdict is a failure.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts := make([]string, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), perCheckTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				verdicts[i] = statusFail + ": " + err.Error()
				return
			}
			verdicts[i] = statusOK
		}()
	}
	wg.Wait()

	res := report{Status: statusOK, Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		res.Checks[c.Name] = verdicts[i]
		if verdicts[i] != statusOK {
			res.Status = statusFail
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}

// writeJSON renders v with the given status code. The status line is gone
// by the time an encoding failure can surface, so the failure is only
// logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("probe response write failed", "error", err)
	}
}
