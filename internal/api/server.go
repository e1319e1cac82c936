// Package api implements the thin REST dispatcher the control API is
// served over: a gorilla/mux router translating HTTP requests into
// registry operations and their errors into the status codes §7 of the
// design prescribes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/faults"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/metrics"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/registry"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/security"
)

// Server is the control API's http.Handler.
type Server struct {
	registry        *registry.Registry
	logger          *slog.Logger
	metrics         *metrics.Metrics
	metricsEndpoint string
	limiter         *security.RateLimiter
	tailscaleOnly   bool
	router          *mux.Router
}

// NewServer wires a Server against reg. metrics and limiter are optional;
// a nil limiter disables rate limiting, a nil metrics disables the metrics
// route entirely. metricsEndpoint is the path Prometheus is exposed on
// when metrics is non-nil; an empty string falls back to "/metrics".
// When tailscaleOnly is set, callers outside the Tailscale address range are
// rejected ahead of routing — for operators who expose the control listener
// past loopback via a Tailscale sidecar rather than binding it directly.
func NewServer(reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics, metricsEndpoint string, limiter *security.RateLimiter, tailscaleOnly bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsEndpoint == "" {
		metricsEndpoint = "/metrics"
	}
	s := &Server{
		registry:        reg,
		logger:          logger.With("component", "api"),
		metrics:         m,
		metricsEndpoint: metricsEndpoint,
		limiter:         limiter,
		tailscaleOnly:   tailscaleOnly,
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/faults", s.handleListFaults).Methods(http.MethodGet)
	s.router.HandleFunc("/faults/{name}/simulation", s.handleCreateSimulation).Methods(http.MethodPost)
	s.router.HandleFunc("/fault-simulations/{id}/enable", s.handleEnable).Methods(http.MethodPost)
	s.router.HandleFunc("/fault-simulations/{id}/resolve", s.handleResolve).Methods(http.MethodPost)
	s.router.HandleFunc("/fault-simulations/{id}/clean-up", s.handleCleanUp).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle(s.metricsEndpoint, promhttp.Handler()).Methods(http.MethodGet)
	}
}

// ServeHTTP makes Server an http.Handler, applying the per-caller rate
// limit ahead of routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.tailscaleOnly && !security.IsTailscaleIP(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if s.limiter != nil {
		ip := security.ExtractClientIP(r.RemoteAddr)
		if !s.limiter.Allow(ip) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleListFaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListFaults())
}

func (s *Server) handleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	desc, err := s.registry.CreateSimulation(name)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownFault) {
			http.Error(w, "unknown fault", http.StatusNotFound)
			return
		}
		s.logger.Error("create simulation failed", "fault", name, "error", err)
		http.Error(w, "failed to start simulation", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.SimulationsTotal.WithLabelValues(name).Inc()
		s.metrics.SimulationsActive.Inc()
	}
	s.logger.Info("simulation created", "id", desc.ID, "fault", name, "listen_port", desc.Proxy.ListenPort)
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.dispatchLifecycle(w, id, s.registry.Enable, s.metrics.IncFaultsEnabled)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.dispatchLifecycle(w, id, s.registry.Resolve, s.metrics.IncFaultsResolved)
}

func (s *Server) handleCleanUp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// A simulation already in StateDestroyed has already had its gauge
	// decremented by an earlier clean-up call; cleanUp is idempotent, so a
	// repeat must not mutate the gauge a second time.
	priorState, _ := s.registry.State(id)
	s.dispatchLifecycle(w, id, s.registry.CleanUp, func(name string) {
		if s.metrics != nil && priorState != faults.StateDestroyed {
			s.metrics.SimulationsActive.Dec()
		}
	})
}

// dispatchLifecycle runs a registry lifecycle call and maps its error to
// the status codes §7 of the design prescribes: unknown id -> 404,
// lifecycle misuse (a destroyed simulation) -> 400, anything else -> 500.
// onSuccess, if non-nil, is invoked with the fault name backing id after
// a successful call, to label a metric.
func (s *Server) dispatchLifecycle(w http.ResponseWriter, id string, op func(string) error, onSuccess func(name string)) {
	var name string
	if onSuccess != nil {
		name, _ = s.registry.FaultName(id)
	}

	err := op(id)
	switch {
	case err == nil:
		if onSuccess != nil {
			onSuccess(name)
		}
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, registry.ErrUnknownSimulation):
		http.Error(w, "unknown simulation id", http.StatusNotFound)
	case errors.Is(err, faults.ErrDestroyed):
		http.Error(w, "simulation already cleaned up", http.StatusBadRequest)
	default:
		s.logger.Error("lifecycle operation failed", "id", id, "error", err)
		http.Error(w, "lifecycle operation failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
