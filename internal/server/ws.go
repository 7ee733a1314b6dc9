// ABOUTME: WebSocket endpoint binding client sockets to conversation sessions
// ABOUTME: Each socket registers one session and feeds inbound frames to the router

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aura-ml/aura-orchestrator/internal/auth"
	"github.com/aura-ml/aura-orchestrator/internal/dedupe"
	"github.com/aura-ml/aura-orchestrator/internal/router"
	"github.com/aura-ml/aura-orchestrator/internal/session"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// inboundFrame is the JSON protocol for client-to-server messages.
type inboundFrame struct {
	Type           string `json:"type"` // "message" | "audio" | "video"
	ConversationID string `json:"conversation_id,omitempty"`
	Payload        string `json:"payload"`
	ClientTS       string `json:"client_ts,omitempty"`
}

// statusFrame acknowledges the connection once the session is registered.
type statusFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// errorFrame reports a rejected inbound frame without closing the socket.
type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// socketSender adapts a websocket connection to the session registry's
// Sender. The mutex serializes writes, which gorilla requires.
type socketSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socketSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleSocket upgrades the connection, registers a session for the
// requested conversation, and pumps inbound frames into the router
// until the socket closes.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, `{"error":"conversation_id query param required"}`, http.StatusBadRequest)
		return
	}

	userID := "anonymous"
	if identity := auth.FromContext(r.Context()); identity != nil {
		userID = identity.UserID
	}

	if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
			return
		}
		s.logger.Error("loading conversation for socket", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if s.verifier != nil {
		ok, err := s.store.IsParticipant(r.Context(), conversationID, userID)
		if err != nil {
			s.logger.Error("participant check failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.trackConn(conn)

	sender := &socketSender{conn: conn}
	sess := &session.Session{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		ConnectedAt:    time.Now().UTC(),
		Sender:         sender,
	}
	if err := s.registry.Register(sess); err != nil {
		s.logger.Error("session registration failed", "error", err)
		s.untrackConn(conn)
		_ = conn.Close()
		return
	}

	defer func() {
		s.registry.Deregister(sess.ID)
		s.untrackConn(conn)
		_ = conn.Close()
	}()

	s.sendFrame(sender, statusFrame{Type: "status", Status: "connected", SessionID: sess.ID})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendFrame(sender, errorFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		if frame.ConversationID != "" && frame.ConversationID != conversationID {
			s.sendFrame(sender, errorFrame{Type: "error", Error: "frame addressed to another conversation"})
			continue
		}

		// Reconnecting clients resend the frame they never saw answered.
		// Only frames carrying a client timestamp are deduplicated, since
		// without one an identical payload may be an intentional repeat.
		var dupKey string
		if frame.ClientTS != "" {
			dupKey = dedupe.Key(conversationID, userID, frame.ClientTS, frame.Payload)
			if s.dedupe.CheckAndMark(dupKey) {
				s.logger.Debug("dropping resent frame",
					"conversation_id", conversationID,
					"client_ts", frame.ClientTS,
				)
				s.sendFrame(sender, errorFrame{Type: "error", Error: "duplicate frame ignored"})
				continue
			}
		}

		event := router.InboundEvent{
			Type:     frame.Type,
			Payload:  frame.Payload,
			UserID:   userID,
			ClientTS: parseClientTS(frame.ClientTS),
		}
		if err := s.router.HandleInbound(r.Context(), conversationID, event); err != nil {
			if dupKey != "" {
				s.dedupe.Forget(dupKey)
			}
			s.logger.Warn("inbound event failed",
				"conversation_id", conversationID,
				"session_id", sess.ID,
				"error", err,
			)
			s.sendFrame(sender, errorFrame{Type: "error", Error: inboundErrorMessage(err)})
		}
	}
}

func (s *Server) sendFrame(sender *socketSender, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshaling socket frame", "error", err)
		return
	}
	if err := sender.Send(payload); err != nil {
		s.logger.Debug("socket write failed", "error", err)
	}
}

// inboundErrorMessage maps processing errors to client-safe text.
// Store failures mean the event was not processed and may be retried.
func inboundErrorMessage(err error) string {
	switch {
	case errors.Is(err, router.ErrUnknownEventType):
		return "unknown event type"
	case errors.Is(err, router.ErrClosed):
		return "server shutting down"
	case errors.Is(err, store.ErrNotFound):
		return "conversation not found"
	default:
		return "message not processed, please retry"
	}
}

func parseClientTS(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
