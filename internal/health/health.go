// Package health serves the bridge's HTTP surface on a chi router:
//
//   - /healthz: liveness, always 200.
//   - /readyz: 200 only when every registered [Checker] passes.
//   - /metrics: Prometheus scrape endpoint.
//   - /debug/session: JSON snapshot from the configured [DebugFunc].
//
// Health responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/rtbridge/internal/observe"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name appears as a key in the JSON response (e.g. "session").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// DebugFunc returns a JSON-encodable snapshot of the running session.
type DebugFunc func() any

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	debug    DebugFunc
	metrics  http.Handler
}

// Option configures a [Handler].
type Option func(*Handler)

// WithDebug enables /debug/session.
func WithDebug(fn DebugFunc) Option {
	return func(h *Handler) { h.debug = fn }
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) { h.metrics = mh }
}

// New creates a [Handler] evaluating checkers in order on each /readyz
// request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		metrics:  promhttp.Handler(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every checker passes. Each checker gets a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Debug writes the [DebugFunc] snapshot, or 404 when none is configured.
func (h *Handler) Debug(w http.ResponseWriter, _ *http.Request) {
	if h.debug == nil {
		http.NotFound(w, nil)
		return
	}
	writeJSON(w, http.StatusOK, h.debug())
}

// Routes mounts all endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", h.metrics)
	r.Get("/debug/session", h.Debug)
}

// NewRouter returns a chi router with panic recovery, the observe
// middleware, and the handler's routes.
func NewRouter(h *Handler, m *observe.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if m != nil {
		r.Use(observe.Middleware(m))
	}
	h.Routes(r)
	return r
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
