// internal/httpapi/server.go
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/cache"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/recovery"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/subscription"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/telemetry"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Server exposes the coordination layer's introspection surface over
// HTTP: health, error and performance stats, the recovery queue, the
// live subscription set, per-user location history, and Prometheus
// metrics. Collaborators left nil disable their endpoints with a 503.
type Server struct {
	errs    *syncerr.Handler
	gov     *perf.Governor
	subs    *subscription.Manager
	rec     *recovery.Manager
	history *cache.HistoryLog
	metrics *telemetry.Metrics
	mux     *http.ServeMux
}

// NewServer wires the routes for the given collaborators.
func NewServer(errs *syncerr.Handler, gov *perf.Governor, subs *subscription.Manager, rec *recovery.Manager, history *cache.HistoryLog, metrics *telemetry.Metrics) *Server {
	s := &Server{
		errs:    errs,
		gov:     gov,
		subs:    subs,
		rec:     rec,
		history: history,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/errors", s.handleErrors)
	s.mux.HandleFunc("GET /api/perf", s.handlePerf)
	s.mux.HandleFunc("GET /api/queue", s.handleQueue)
	s.mux.HandleFunc("GET /api/subscriptions", s.handleSubscriptions)
	s.mux.HandleFunc("GET /api/history/", s.handleHistory)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /", s.handleIndex)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.errs == nil || s.errs.Healthy()
	status := "ok"
	if !healthy {
		status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": status, "healthy": healthy})
}

// errorsResponse is the JSON body for GET /api/errors.
type errorsResponse struct {
	Stats  syncerr.Stats        `json:"stats"`
	Recent []*syncerr.SyncError `json:"recent"`
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if s.errs == nil {
		http.Error(w, `{"error":"error handler not configured"}`, http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	history := s.errs.History()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	// newest first
	recent := make([]*syncerr.SyncError, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		recent = append(recent, history[i])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(errorsResponse{Stats: s.errs.ErrorStats(), Recent: recent})
}

func (s *Server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if s.gov == nil {
		http.Error(w, `{"error":"governor not configured"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.gov.PerformanceSummary())
}

// queueResponse is the JSON body for GET /api/queue.
type queueResponse struct {
	State      recovery.State       `json:"state"`
	Size       int                  `json:"size"`
	Operations []recovery.Operation `json:"operations"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		http.Error(w, `{"error":"recovery manager not configured"}`, http.StatusServiceUnavailable)
		return
	}

	ops := s.rec.Pending()
	if ops == nil {
		ops = []recovery.Operation{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(queueResponse{
		State:      s.rec.State(),
		Size:       len(ops),
		Operations: ops,
	})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.subs == nil {
		http.Error(w, `{"error":"subscription manager not configured"}`, http.StatusServiceUnavailable)
		return
	}

	infos := s.subs.Snapshot()
	if infos == nil {
		infos = []subscription.Info{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

// historyResponse is the JSON body for GET /api/history/{userID}.
type historyResponse struct {
	UserID    types.UserID            `json:"user_id"`
	Count     int64                   `json:"count"`
	Locations []*types.LocationUpdate `json:"locations"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, `{"error":"history log not configured"}`, http.StatusServiceUnavailable)
		return
	}

	userID := types.UserID(strings.TrimPrefix(r.URL.Path, "/api/history/"))
	if userID == "" {
		http.Error(w, `{"error":"user id required"}`, http.StatusBadRequest)
		return
	}

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	locations, err := s.history.Tail(userID, limit)
	if err != nil {
		slog.Error("history tail failed", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if locations == nil {
		locations = []*types.LocationUpdate{}
	}
	count, err := s.history.Count(userID)
	if err != nil {
		slog.Warn("history count failed", "user_id", userID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(historyResponse{UserID: userID, Count: count, Locations: locations})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, `{"error":"metrics not configured"}`, http.StatusServiceUnavailable)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service": "geoguardian-sync",
		"endpoints": []string{
			"/health",
			"/api/errors",
			"/api/perf",
			"/api/queue",
			"/api/subscriptions",
			"/api/history/{user_id}",
			"/metrics",
		},
	})
}
