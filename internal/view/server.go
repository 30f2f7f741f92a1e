// Package view serves stored probe results and on-demand log parsing over HTTP.
package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"phobos.org.uk/ampprobe/internal/api"
	"phobos.org.uk/ampprobe/internal/debuglog"
	"phobos.org.uk/ampprobe/internal/history"
	"phobos.org.uk/ampprobe/internal/logging"
)

// MaxParseBody limits the size of a debug log posted to /parse.
const MaxParseBody = 64 << 20

// Server is the HTTP view.
type Server struct {
	port      int
	version   string
	startedAt time.Time
	log       *logging.Logger
	history   *history.Store // May be nil
	server    *http.Server
}

// New creates a view server. store may be nil, in which case the history
// endpoints report 503.
func New(port int, version string, log *logging.Logger, store *history.Store) *Server {
	return &Server{
		port:      port,
		version:   version,
		startedAt: time.Now(),
		log:       log,
		history:   store,
	}
}

// Router returns the HTTP router
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/status", s.handleStatus)
	r.Post("/parse", s.handleParse)

	r.Get("/history", s.handleListHistory)
	r.Get("/history/{id}", s.handleGetHistory)
	r.Get("/history/{id}/debug", s.handleGetHistoryDebug)

	r.Get("/logs", s.handleLogs)
	r.Get("/logs/stats", s.handleLogStats)

	return r
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("view starting", map[string]any{
		"addr":    addr,
		"version": s.version,
	})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := api.StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.history != nil {
		resp.HistoryCount = s.history.Len()
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleParse parses a debug log sent as the request body.
// Query params:
//   - repair: "true" to repair truncated lines
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxParseBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("debug log exceeds %d bytes", MaxParseBody))
			return
		}
		api.WriteError(w, http.StatusBadRequest, "read_error", err.Error())
		return
	}

	repair, err := api.ParseBoolParam(r.URL.Query().Get("repair"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_repair", "repair "+err.Error())
		return
	}
	opts := debuglog.Options{RepairTruncated: repair, Log: s.log}

	resp := api.ParseResponse{Result: debuglog.ParseReader(bytes.NewReader(body), opts)}
	if id, ok := debuglog.ExtractThreadIDReader(bytes.NewReader(body)); ok {
		resp.ThreadID = id
	}

	s.log.Debug("parsed debug log", map[string]any{
		"bytes":      len(body),
		"tool_calls": len(resp.ToolCalls),
	})
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "history_unavailable", "History storage not configured")
		return
	}

	page, err := api.ParseIntParam(r.URL.Query().Get("page"), 1, 100000, 1)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_page", "page "+err.Error())
		return
	}
	limit, err := api.ParseIntParam(r.URL.Query().Get("limit"), 1, 100, 20)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit "+err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, s.history.List(history.ListOptions{Page: page, Limit: limit}))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "history_unavailable", "History storage not configured")
		return
	}

	entry, err := s.history.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

// handleGetHistoryDebug returns the raw JSONL debug log of a probe.
func (s *Server) handleGetHistoryDebug(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "history_unavailable", "History storage not configured")
		return
	}

	debugLog, err := s.history.GetDebugLog(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	w.Write(debugLog)
}

// handleLogs returns log entries with optional filtering.
// Query params:
//   - level: minimum log level (debug, info, warn, error)
//   - probe_id: filter by probe ID
//   - since, until: RFC3339 timestamps
//   - limit: max entries to return (default 100)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := logging.Query{
		Limit:   100,
		ProbeID: r.URL.Query().Get("probe_id"),
	}

	if level := r.URL.Query().Get("level"); level != "" {
		l, err := logging.ParseLevel(level)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid_level", err.Error())
			return
		}
		q.Level = l
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = t
		}
	}
	if until := r.URL.Query().Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			q.Until = t
		}
	}
	if limit, err := api.ParseIntParam(r.URL.Query().Get("limit"), 1, 10000, q.Limit); err == nil {
		q.Limit = limit
	}

	api.WriteJSON(w, http.StatusOK, s.log.Query(q))
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.log.Stats())
}
