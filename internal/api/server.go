// Package api implements the HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/auth"
	"github.com/taskmind/taskmind/internal/buildinfo"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/llm"
)

const (
	maxMessageLength = 2000
	maxFetchLimit    = 100
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	loop         *agent.Loop
	convs        *conversation.Store
	auth         *auth.Manager
	logger       *slog.Logger
	server       *http.Server
	historyLimit int
	fetchLimit   int
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, convs *conversation.Store, authMgr *auth.Manager, logger *slog.Logger) *Server {
	return &Server{
		address:      address,
		port:         port,
		loop:         loop,
		convs:        convs,
		auth:         authMgr,
		logger:       logger,
		historyLimit: 20,
		fetchLimit:   50,
	}
}

// SetHistoryLimit caps how many prior turns are replayed to the model.
func (s *Server) SetHistoryLimit(n int) {
	if n > 0 {
		s.historyLimit = n
	}
}

// SetFetchLimit caps how many messages the REST surface returns,
// bounded above by maxFetchLimit.
func (s *Server) SetFetchLimit(n int) {
	if n > 0 {
		s.fetchLimit = min(n, maxFetchLimit)
	}
}

// Handler builds the routing table. Exposed separately from Start so
// tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Per-user endpoints, bearer-token guarded
	mux.Handle("POST /{userID}/chat", s.auth.Middleware(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /{userID}/conversations", s.auth.Middleware(http.HandlerFunc(s.handleConversationList)))
	mux.Handle("GET /{userID}/conversations/{conversationID}/messages", s.auth.Middleware(http.HandlerFunc(s.handleConversationMessages)))

	// Health endpoints
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Agent turns can run several model round-trips
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
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

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "taskmind",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ChatRequest is the request body for the chat endpoint.
type ChatRequest struct {
	ConversationID int64  `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ChatResponse is the chat endpoint's reply.
type ChatResponse struct {
	ConversationID int64                  `json:"conversation_id"`
	Response       string                 `json:"response"`
	ToolCalls      []agent.ToolCallRecord `json:"tool_calls"`
}

// handleChat runs one agent turn:
// validate → load or create conversation → replay history → persist
// the user message → agent.Run → persist the reply → respond.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxMessageLength {
		s.errorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("message exceeds %d characters", maxMessageLength))
		return
	}

	conv, err := s.convs.GetOrCreate(userID, req.ConversationID)
	if err != nil {
		s.logger.Error("conversation lookup failed", "error", err, "user", userID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}

	history, err := s.convs.History(conv.ID, s.historyLimit)
	if err != nil {
		s.logger.Error("history load failed", "error", err, "conversation", conv.ID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}

	// The user turn commits before the agent runs. If the turn fails
	// past this point the message is still part of the record.
	if _, err := s.convs.AddUserMessage(conv.ID, userID, req.Message); err != nil {
		s.logger.Error("persist user message failed", "error", err, "conversation", conv.ID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}

	result, err := s.loop.Run(r.Context(), userID, toLLMMessages(history), req.Message)
	if err != nil {
		s.logger.Error("agent turn failed", "error", err, "user", userID, "conversation", conv.ID)
		s.errorResponse(w, http.StatusInternalServerError, "agent error")
		return
	}

	if _, err := s.convs.AddAssistantMessage(conv.ID, userID, result.Response); err != nil {
		s.logger.Error("persist assistant message failed", "error", err, "conversation", conv.ID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}
	if err := s.convs.Touch(conv.ID); err != nil {
		s.logger.Warn("conversation touch failed", "error", err, "conversation", conv.ID)
	}

	toolCalls := result.ToolCalls
	if toolCalls == nil {
		toolCalls = []agent.ToolCallRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		ConversationID: conv.ID,
		Response:       result.Response,
		ToolCalls:      toolCalls,
	}, s.logger)
}

// ConversationSummary is one entry in the conversation list.
type ConversationSummary struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	convs, err := s.convs.ListByOwner(userID)
	if err != nil {
		s.logger.Error("conversation list failed", "error", err, "user", userID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}

	summaries := make([]ConversationSummary, len(convs))
	for i, c := range convs {
		summaries[i] = ConversationSummary{
			ID:        c.ID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": summaries,
		"count":         len(summaries),
	}, s.logger)
}

// MessageView is one entry in the conversation message list.
type MessageView struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	convID, err := strconv.ParseInt(r.PathValue("conversationID"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	// Ownership check before exposing any messages.
	if _, err := s.convs.Get(userID, convID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("conversation lookup failed", "error", err, "conversation", convID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}

	msgs, err := s.convs.Messages(convID, s.fetchLimit)
	if err != nil {
		s.logger.Error("message list failed", "error", err, "conversation", convID)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error")
		return
	}

	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = MessageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": convID,
		"messages":        views,
		"count":           len(views),
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func toLLMMessages(msgs []*conversation.Message) []llm.Message {
	result := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		result[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return result
}
