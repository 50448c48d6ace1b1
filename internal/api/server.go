// Package api implements the HTTP API: chat session CRUD, message
// history, the send-message endpoint that drives the agent loop, and
// the live event feeds (SSE and WebSocket).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/qna-agent/internal/agent"
	"github.com/nugget/qna-agent/internal/buildinfo"
	"github.com/nugget/qna-agent/internal/hub"
	"github.com/nugget/qna-agent/internal/llm"
	"github.com/nugget/qna-agent/internal/store"
)

// Pagination bounds shared by the list endpoints.
const (
	defaultChatLimit    = 20
	defaultMessageLimit = 50
	maxPageLimit        = 100
)

// sseKeepaliveInterval is how long an event feed sits idle before a
// comment line goes out to hold the connection open.
const sseKeepaliveInterval = 30 * time.Second

// eventBufSize is the per-subscriber channel buffer for both feeds.
const eventBufSize = 64

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
	address string
	port    int
	store   *store.Store
	agent   *agent.Service
	hub     *hub.Hub
	llm     llm.Client
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, st *store.Store, svc *agent.Service, h *hub.Hub, client llm.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		store:   st,
		agent:   svc,
		hub:     h,
		llm:     client,
		logger:  logger,
	}
}

// Handler builds the routing table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat session endpoints
	mux.HandleFunc("POST /v1/chats", s.handleChatCreate)
	mux.HandleFunc("GET /v1/chats", s.handleChatList)
	mux.HandleFunc("GET /v1/chats/{id}", s.handleChatGet)
	mux.HandleFunc("DELETE /v1/chats/{id}", s.handleChatDelete)

	// Message endpoints
	mux.HandleFunc("GET /v1/chats/{id}/messages", s.handleMessageList)
	mux.HandleFunc("POST /v1/chats/{id}/messages", s.handleMessageSend)

	// Live event feeds
	mux.HandleFunc("GET /v1/chats/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /v1/chats/{id}/ws", s.handleWebSocket)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for event feeds; deadlines reset per write
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

// chatPayload is the transport shape of a chat session.
type chatPayload struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toChatPayload(c *store.Conversation) chatPayload {
	return chatPayload{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// messagePayload is the transport shape of a stored message.
type messagePayload struct {
	ID         string         `json:"id"`
	ChatID     string         `json:"chat_id"`
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toMessagePayload(m *store.Message) messagePayload {
	return messagePayload{
		ID:         m.ID,
		ChatID:     m.ConversationID,
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		CreatedAt:  m.CreatedAt,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "qna-agent",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// handleReady checks the dependencies a working deployment needs: the
// database answers and the LLM API is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": "ok",
		"llm":      "ok",
	}
	ok := true

	if _, _, err := s.store.ListConversations(1, 0); err != nil {
		checks["database"] = err.Error()
		ok = false
	}
	if err := s.llm.Ping(r.Context()); err != nil {
		checks["llm"] = err.Error()
		ok = false
	}

	status := "ready"
	code := http.StatusOK
	if !ok {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"status": status, "checks": checks}, s.logger)
}

// chatCreateRequest is the optional body for chat creation.
type chatCreateRequest struct {
	Title *string `json:"title"`
}

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	var req chatCreateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	conv, err := s.store.CreateConversation(req.Title)
	if err != nil {
		s.logger.Error("failed to create chat", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toChatPayload(conv), s.logger)
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r, defaultChatLimit)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, total, err := s.store.ListConversations(limit, offset)
	if err != nil {
		s.logger.Error("failed to list chats", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	items := make([]chatPayload, 0, len(convs))
	for i := range convs {
		items = append(items, toChatPayload(&convs[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}, s.logger)
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get chat", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to get chat")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toChatPayload(conv), s.logger)
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteConversation(r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to delete chat", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	limit, offset, err := pagination(r, defaultMessageLimit)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.store.GetConversation(chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "chat not found")
			return
		}
		s.logger.Error("failed to get chat", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to get chat")
		return
	}

	msgs, total, err := s.store.MessagesPage(chatID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	items := make([]messagePayload, 0, len(msgs))
	for i := range msgs {
		items = append(items, toMessagePayload(&msgs[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}, s.logger)
}

// messageSendRequest is the body for sending a user message.
type messageSendRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req messageSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	// Let live subscribers show a typing indicator while the loop runs.
	s.hub.Publish(chatID, hub.Event{
		Kind: hub.KindTyping,
		Data: map[string]any{"chat_id": chatID},
	})

	userMsg, assistantMsg, err := s.agent.ProcessMessage(r.Context(), chatID, req.Content)
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to process message", "chat_id", chatID, "error", err)
		s.hub.Publish(chatID, hub.Event{
			Kind: hub.KindError,
			Data: map[string]any{"message": "Failed to process message with LLM"},
		})
		s.errorResponse(w, http.StatusBadGateway, "failed to process message with LLM")
		return
	}

	s.publishMessage(chatID, userMsg)
	s.publishMessage(chatID, assistantMsg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"user_message":      toMessagePayload(userMsg),
		"assistant_message": toMessagePayload(assistantMsg),
	}, s.logger)
}

func (s *Server) publishMessage(chatID string, m *store.Message) {
	s.hub.Publish(chatID, hub.Event{
		Kind: hub.KindMessage,
		Data: map[string]any{
			"id":      m.ID,
			"role":    m.Role,
			"content": m.Content,
		},
	})
}

// pagination parses limit/offset query parameters with bounds checks.
func pagination(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be non-negative")
		}
	}
	return limit, offset, nil
}
