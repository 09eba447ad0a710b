// Package web implements the monitoring HTTP API: conversation listing
// and control, a live transcript tail over websocket, archived
// conversation browsing, and rendered note viewing.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mthorsley/convoy/internal/buildinfo"
	"github.com/mthorsley/convoy/internal/notes"
	"github.com/mthorsley/convoy/internal/orchestrator"
	"github.com/mthorsley/convoy/internal/registry"
	"github.com/mthorsley/convoy/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the monitoring HTTP server.
type Server struct {
	address string
	port    int
	monitor *orchestrator.Monitor
	archive *store.Archive
	notes   *notes.Store
	model   string // default model for new conversations
	turns   int    // default turn budget for new conversations
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a monitoring server. archive and noteStore may be
// nil; their endpoints then return 404.
func NewServer(address string, port int, monitor *orchestrator.Monitor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		monitor: monitor,
		logger:  logger,
	}
}

// SetArchive configures the conversation archive for browse endpoints.
func (s *Server) SetArchive(a *store.Archive) {
	s.archive = a
}

// SetNotes configures the note store for note endpoints.
func (s *Server) SetNotes(n *notes.Store) {
	s.notes = n
}

// SetDefaults configures the model and turn budget applied to new
// conversations that omit them.
func (s *Server) SetDefaults(model string, maxTurns int) {
	s.model = model
	s.turns = maxTurns
}

// Handler builds the monitor API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/conversations", s.handleConversationList)
	mux.HandleFunc("POST /api/conversations", s.handleConversationStart)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("POST /api/conversations/{id}/cancel", s.handleConversationCancel)

	mux.HandleFunc("GET /api/log", s.handleLogRecent)
	mux.HandleFunc("GET /api/log/ws", s.handleLogWS)

	mux.HandleFunc("GET /api/archive", s.handleArchiveList)
	mux.HandleFunc("GET /api/archive/{id}", s.handleArchiveGet)

	mux.HandleFunc("GET /api/notes", s.handleNoteList)
	mux.HandleFunc("GET /api/notes/{name}", s.handleNoteGet)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the websocket log tail is long-lived.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting monitor server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{
		"name":    "Convoy",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// conversationView is the JSON shape of a registry record. The
// cancellation token is internal and never serialized.
type conversationView struct {
	ID          int    `json:"id"`
	Goal        string `json:"goal"`
	Caller      string `json:"caller"`
	Model       string `json:"model"`
	Status      string `json:"status"`
	CurrentTurn int    `json:"current_turn"`
	MaxTurns    int    `json:"max_turns"`
	StartedAt   string `json:"started_at"`
	UpdatedAt   string `json:"updated_at"`
	ErrorMsg    string `json:"error,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`
}

func viewOf(c registry.Conversation) conversationView {
	return conversationView{
		ID:          c.ID,
		Goal:        c.Goal,
		Caller:      c.Caller,
		Model:       c.Model,
		Status:      string(c.Status),
		CurrentTurn: c.CurrentTurn,
		MaxTurns:    c.MaxTurns,
		StartedAt:   c.StartedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.UTC().Format(time.RFC3339),
		ErrorMsg:    c.ErrorMsg,
		Cancelled:   c.Cancelled,
	}
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs := s.monitor.Registry().GetAll()
	views := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, viewOf(*c))
	}
	writeJSON(w, map[string]any{"conversations": views}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	conv := s.monitor.Registry().Get(id)
	if conv == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, viewOf(*conv), s.logger)
}

// startRequest is the POST /api/conversations body.
type startRequest struct {
	Goal     string `json:"goal"`
	Caller   string `json:"caller,omitempty"`
	Model    string `json:"model,omitempty"`
	MaxTurns int    `json:"max_turns,omitempty"`
}

func (s *Server) handleConversationStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Goal == "" {
		s.errorResponse(w, http.StatusBadRequest, "goal is required")
		return
	}
	if req.Model == "" {
		req.Model = s.model
	}
	if req.MaxTurns <= 0 {
		req.MaxTurns = s.turns
	}
	if req.Caller == "" {
		req.Caller = "WebUI"
	}

	// The loop must outlive this request.
	id, _ := s.monitor.Start(context.WithoutCancel(r.Context()), orchestrator.Spec{
		Goal:     req.Goal,
		Caller:   req.Caller,
		Model:    req.Model,
		MaxTurns: req.MaxTurns,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"id": id, "status": "started"}, s.logger)
}

func (s *Server) handleConversationCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if s.monitor.Registry().Get(id) == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.monitor.Cancel(id)
	writeJSON(w, map[string]any{"id": id, "status": "cancellation_requested"}, s.logger)
}

func (s *Server) handleLogRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"lines": s.monitor.Sink().Recent()}, s.logger)
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusNotFound, "archive not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recent, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("archive query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	writeJSON(w, map[string]any{"conversations": recent}, s.logger)
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusNotFound, "archive not configured")
		return
	}
	entries, err := s.archive.Entries(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("archive query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	if len(entries) == 0 {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, map[string]any{"entries": entries}, s.logger)
}

func (s *Server) handleNoteList(w http.ResponseWriter, r *http.Request) {
	if s.notes == nil {
		s.errorResponse(w, http.StatusNotFound, "notes not configured")
		return
	}
	names, err := s.notes.List()
	if err != nil {
		s.logger.Error("note listing failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "note listing failed")
		return
	}
	writeJSON(w, map[string]any{"notes": names}, s.logger)
}

func (s *Server) handleNoteGet(w http.ResponseWriter, r *http.Request) {
	if s.notes == nil {
		s.errorResponse(w, http.StatusNotFound, "notes not configured")
		return
	}
	html, err := s.notes.RenderHTML(r.PathValue("name"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "note not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
