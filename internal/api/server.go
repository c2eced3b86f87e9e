// Package api implements the HTTP surface the host calls to converse.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wrenly/hearth/internal/agent"
	"github.com/wrenly/hearth/internal/buildinfo"
)

// Converser processes one conversation turn. Implemented by the
// orchestrator.
type Converser interface {
	Converse(ctx context.Context, req agent.Request) agent.Response
}

// writeJSON encodes v to w; failures usually mean the client went away.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	addr   string
	agent  Converser
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the API server.
func NewServer(addr string, agent Converser, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, agent: agent, logger: logger}
}

// Handler builds the route table. Exposed separately so tests can
// drive it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/converse", s.handleConverse)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second, // turns can span several model calls
	}
	s.logger.Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
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

// ConverseRequest is the POST /api/converse body.
type ConverseRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
}

// ConverseResponse is the reply: always speech, never an error body.
type ConverseResponse struct {
	Speech         string `json:"speech"`
	ConversationID string `json:"conversation_id"`
	Fallback       bool   `json:"fallback,omitempty"`
}

func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req ConverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	result := s.agent.Converse(r.Context(), agent.Request{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		Language:       req.Language,
	})

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ConverseResponse{
		Speech:         result.Speech,
		ConversationID: result.ConversationID,
		Fallback:       result.Fallback,
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Hearth",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
