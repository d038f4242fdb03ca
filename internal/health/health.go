// Package health serves the liveness and readiness probes.
//
//   - /healthz always answers 200; a process that can serve HTTP is alive.
//   - /readyz answers 200 only while every registered [Checker] passes,
//     503 otherwise. The bot registers a gateway checker so readiness
//     flips whenever the Discord connection drops.
//
// Both respond with a JSON body carrying the overall status, the number of
// live voice sessions, and per-checker results.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the
// dependency is healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Gateway builds a checker that fails while the Discord gateway connection
// is down. ready reports whether the gateway has completed its handshake.
func Gateway(ready func() bool) Checker {
	return Checker{
		Name: "gateway",
		Check: func(_ context.Context) error {
			if !ready() {
				return errors.New("gateway connection not established")
			}
			return nil
		},
	}
}

type result struct {
	Status   string            `json:"status"`
	Sessions int               `json:"active_sessions"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; safe for concurrent use.
type Handler struct {
	checkers []Checker
	sessions func() int
}

// New creates a [Handler]. sessions reports the number of live voice
// sessions for the response body; nil reports zero. Checkers run
// concurrently on each /readyz request.
func New(sessions func() int, checkers ...Checker) *Handler {
	if sessions == nil {
		sessions = func() int { return 0 }
	}
	h := &Handler{sessions: sessions}
	h.checkers = append(h.checkers, checkers...)
	return h
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Sessions: h.sessions()})
}

// Readyz is the readiness probe. Checkers run concurrently, each under its
// own [checkTimeout] deadline; any failure turns the response into a 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	g, ctx := errgroup.WithContext(r.Context())
	for i, c := range h.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(checkCtx)
			// Failures are reported per checker, not as a group error.
			return nil
		})
	}
	_ = g.Wait()

	res := result{
		Status:   "ok",
		Sessions: h.sessions(),
		Checks:   make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}
	if len(h.checkers) == 0 {
		res.Checks = nil
	}

	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
