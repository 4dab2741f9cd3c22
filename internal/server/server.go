// Package server exposes the analyzer over HTTP: a REST API for repository
// and consumer management plus a tool endpoint for agent integrations.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/contractmap/internal/audit"
	"github.com/wudi/contractmap/internal/config"
	"github.com/wudi/contractmap/internal/errors"
	"github.com/wudi/contractmap/internal/graph"
	"github.com/wudi/contractmap/internal/impact"
	"github.com/wudi/contractmap/internal/logging"
	"github.com/wudi/contractmap/internal/metrics"
	"github.com/wudi/contractmap/internal/registry"
	"github.com/wudi/contractmap/internal/store"
	"github.com/wudi/contractmap/internal/webhook"
)

// Server is the HTTP API.
type Server struct {
	svc        *impact.Service
	metrics    *metrics.Collector
	dispatcher *webhook.Dispatcher

	httpServer *http.Server
}

// New builds the server and its route table.
func New(cfg config.ServerConfig, svc *impact.Service, collector *metrics.Collector, dispatcher *webhook.Dispatcher) *Server {
	s := &Server{
		svc:        svc,
		metrics:    collector,
		dispatcher: dispatcher,
	}

	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)
	if collector != nil {
		router.Handler(http.MethodGet, "/metrics", collector.Handler())
	}

	router.HandlerFunc(http.MethodGet, "/api/repos", s.handleListRepos)
	router.HandlerFunc(http.MethodPost, "/api/repos", s.handleRegisterRepo)
	router.HandlerFunc(http.MethodDelete, "/api/repos/:name", s.handleUnregisterRepo)
	router.HandlerFunc(http.MethodPost, "/api/repos/:name/scan", s.handleScan)
	router.HandlerFunc(http.MethodPost, "/api/repos/:name/assess", s.handleAssess)
	router.HandlerFunc(http.MethodGet, "/api/repos/:name/breaking", s.handleBreaking)
	router.HandlerFunc(http.MethodGet, "/api/repos/:name/history", s.handleHistory)
	router.HandlerFunc(http.MethodGet, "/api/repos/:name/diff", s.handleDiff)
	router.HandlerFunc(http.MethodGet, "/api/repos/:name/consumers", s.handleConsumers)

	router.HandlerFunc(http.MethodPost, "/api/edges", s.handleAddEdge)
	router.HandlerFunc(http.MethodDelete, "/api/edges", s.handleRemoveEdge)
	router.HandlerFunc(http.MethodGet, "/api/graph", s.handleGraph)

	router.HandlerFunc(http.MethodGet, "/api/reports", s.handleListReports)
	router.HandlerFunc(http.MethodGet, "/api/reports/:id", s.handleGetReport)

	router.HandlerFunc(http.MethodGet, "/api/feedback", s.handleListFeedback)
	router.HandlerFunc(http.MethodPost, "/api/feedback", s.handleRecordFeedback)
	router.HandlerFunc(http.MethodGet, "/api/audit", s.handleAudit)

	router.HandlerFunc(http.MethodGet, "/api/tools", s.handleListTools)
	router.HandlerFunc(http.MethodPost, "/api/tools/:name", s.handleCallTool)

	if dispatcher != nil {
		router.HandlerFunc(http.MethodGet, "/api/webhooks/stats", s.handleWebhookStats)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	logging.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Registry.List())
}

func (s *Server) handleRegisterRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.svc.Register(req.Name, req.Path, registry.RepoType(req.Type))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleUnregisterRepo(w http.ResponseWriter, r *http.Request) {
	name := param(r, "name")
	if err := s.svc.Unregister(name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Scan(r.Context(), param(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Assess(r.Context(), param(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBreaking(w http.ResponseWriter, r *http.Request) {
	breaking, err := s.svc.CheckBreaking(r.Context(), param(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"breaking": len(breaking) > 0,
		"changes":  breaking,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.History(param(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	// Trim endpoint bodies; history is a listing, not a dump.
	type entry struct {
		ID          string    `json:"id"`
		ContentHash string    `json:"content_hash"`
		CapturedAt  time.Time `json:"captured_at"`
		Endpoints   int       `json:"endpoints"`
	}
	out := make([]entry, 0, len(versions))
	for _, v := range versions {
		out = append(out, entry{v.ID, v.ContentHash, v.CapturedAt, len(v.Endpoints)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and to query parameters are required"})
		return
	}
	records, err := s.svc.DiffVersions(param(r, "name"), from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleConsumers(w http.ResponseWriter, r *http.Request) {
	name := param(r, "name")
	method := r.URL.Query().Get("method")
	path := r.URL.Query().Get("path")
	if method != "" && path != "" {
		writeJSON(w, http.StatusOK, s.svc.Graph.ConsumersOf(name, method, path))
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Graph.EdgesTo(name))
}

func (s *Server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var edge graph.Edge
	if err := json.NewDecoder(r.Body).Decode(&edge); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	added, err := s.svc.AddEdge(edge)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"added": added})
}

func (s *Server) handleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	var edge graph.Edge
	if err := json.NewDecoder(r.Body).Decode(&edge); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	removed, err := s.svc.RemoveEdge(edge)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"edges":     s.svc.Graph.All(),
		"adjacency": s.svc.Graph.Adjacency(),
	})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.Reports.List(r.URL.Query().Get("repo"), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Reports.Get(param(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Feedback.List(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecordFeedback(w http.ResponseWriter, r *http.Request) {
	var fb store.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.RecordFeedback(fb); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.svc.Audit == nil {
		writeJSON(w, http.StatusOK, []audit.Record{})
		return
	}
	q := audit.Query{
		Op:    r.URL.Query().Get("op"),
		Repo:  r.URL.Query().Get("repo"),
		Limit: queryInt(r, "limit", 100),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		q.Since = t
	}
	records, err := s.svc.Audit.Read(q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Stats())
}

func param(r *http.Request, name string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(name)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// statusFor maps domain error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.IsKind(err, errors.KindUnknownRepository):
		return http.StatusNotFound
	case errors.IsKind(err, errors.KindVersionConflict):
		return http.StatusConflict
	case errors.IsKind(err, errors.KindMalformedContract),
		errors.IsKind(err, errors.KindUnparsableSource):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
