package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/qna-agent/internal/hub"
	"github.com/nugget/qna-agent/internal/store"
)

// upgrader accepts WebSocket connections for the live event feed. The
// feed is same-origin in practice but carries no credentials, so no
// origin check is applied.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents streams chat events to the client as Server-Sent
// Events. Idle connections get a comment line every 30s so proxies
// and write deadlines do not tear them down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	if _, err := s.store.GetConversation(chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "chat not found")
			return
		}
		s.logger.Error("failed to get chat", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to get chat")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.Subscribe(chatID, eventBufSize)
	defer s.hub.Unsubscribe(ch)

	s.logger.Info("sse client connected", "chat_id", chatID)
	defer s.logger.Info("sse client disconnected", "chat_id", chatID)

	rc := http.NewResponseController(w)
	keepalive := time.NewTimer(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}

		// Reset the write deadline and the keepalive clock after
		// every write so long-lived feeds survive the server timeout.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
		if !keepalive.Stop() {
			select {
			case <-keepalive.C:
			default:
			}
		}
		keepalive.Reset(sseKeepaliveInterval)
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, evt hub.Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		s.logger.Debug("failed to marshal SSE event", "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
	return err
}

// handleWebSocket is the WebSocket variant of the event feed. Events
// arrive as JSON frames {"event": kind, "data": {...}}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	if _, err := s.store.GetConversation(chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "chat not found")
			return
		}
		s.logger.Error("failed to get chat", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to get chat")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "chat_id", chatID, "error", err)
		return
	}
	defer conn.Close()

	ch := s.hub.Subscribe(chatID, eventBufSize)
	defer s.hub.Unsubscribe(ch)

	s.logger.Info("websocket client connected", "chat_id", chatID)
	defer s.logger.Info("websocket client disconnected", "chat_id", chatID)

	// Drain the read side so close frames and pongs are processed.
	// The feed is write-only; inbound data frames are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(sseKeepaliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-done:
			return

		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]any{
				"event": evt.Kind,
				"data":  evt.Data,
			}); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
