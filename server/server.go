// Package server exposes the chat engine over HTTP: a streaming chat
// endpoint delivering the canonical event sequence as server-sent events,
// plus history and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/shopchat/conversation"
	"github.com/sweetpotato0/shopchat/event"
	"github.com/sweetpotato0/shopchat/message"
	"github.com/sweetpotato0/shopchat/orchestrator"
	"github.com/sweetpotato0/shopchat/pkg/logging"
)

// TurnRunner drives conversation turns. Satisfied by
// *orchestrator.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, req *orchestrator.Request, emit event.Sink) error
	History(ctx context.Context, conversationID string) ([]*message.Turn, error)
}

// Server is the HTTP front of the chat engine.
type Server struct {
	runner TurnRunner
	store  conversation.Store
	logger *slog.Logger
	http   *http.Server
}

// New creates a server listening on addr.
func New(addr string, runner TurnRunner, store conversation.Store) *Server {
	s := &Server{
		runner: runner,
		store:  store,
		logger: logging.WithComponent("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	PromptType     string `json:"prompt_type,omitempty"`
	Shop           string `json:"shop"`
}

// handleChat validates the request, then opens the event stream. Validation
// failures are terminal JSON responses; once the stream is open every
// failure, including a panic upstream, becomes a terminal error event so the
// channel never closes silently.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.jsonError(w, http.StatusBadRequest, "message is required")
		return
	}
	if strings.TrimSpace(req.Shop) == "" {
		s.jsonError(w, http.StatusBadRequest, "shop is required")
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic during chat turn", "panic", rec)
			_ = stream.WriteEvent(event.Error("internal error"))
		}
	}()

	runErr := s.runner.RunTurn(r.Context(), &orchestrator.Request{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		PromptType:     req.PromptType,
		Shop:           req.Shop,
	}, stream.WriteEvent)
	if runErr != nil {
		// The turn itself already emitted its terminal event; this is for
		// the operator, not the consumer.
		s.logger.Error("chat turn failed", "error", runErr)
	}
}

type historyResponse struct {
	ConversationID string          `json:"conversation_id"`
	Turns          []*message.Turn `json:"turns"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conversation_id")
	if strings.TrimSpace(convID) == "" {
		s.jsonError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	turns, err := s.runner.History(r.Context(), convID)
	if err != nil {
		s.logger.Error("history read failed", "conversation_id", convID, "error", err)
		s.jsonError(w, http.StatusInternalServerError, "failed to read conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(historyResponse{ConversationID: convID, Turns: turns})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("store health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "store": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
