// ABOUTME: REST handlers for conversations, history, analysis packets, and summaries
// ABOUTME: Participant checks gate every conversation-scoped read when auth is enabled

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-ml/aura-orchestrator/internal/auth"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// ConversationResponse is the JSON representation of a conversation.
type ConversationResponse struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	CreatedBy    string   `json:"created_by"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// MessageResponse is the JSON representation of one message.
type MessageResponse struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	Sequence  int64  `json:"sequence"`
	CreatedAt string `json:"created_at"`
}

// ConversationMessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// PacketResponse is the JSON representation of a retained analysis packet.
type PacketResponse struct {
	MessageID      string                        `json:"message_id"`
	ConversationID string                        `json:"conversation_id"`
	Stages         map[string]*store.StageResult `json:"stages"`
	Complete       bool                          `json:"complete"`
	CreatedAt      string                        `json:"created_at"`
}

// SummaryResponse is the JSON representation of the current memory summary.
type SummaryResponse struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversation_id"`
	Content         string `json:"content"`
	FromSequence    int64  `json:"from_sequence"`
	ThroughSequence int64  `json:"through_sequence"`
	CreatedAt       string `json:"created_at"`
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestUserID returns the authenticated user, or "anonymous" when
// auth is disabled.
func requestUserID(r *http.Request) string {
	if identity := auth.FromContext(r.Context()); identity != nil {
		return identity.UserID
	}
	return "anonymous"
}

// canAccess reports whether the request's user may read the
// conversation. With auth disabled every conversation is readable.
func (s *Server) canAccess(r *http.Request, conversationID string) (bool, error) {
	if s.verifier == nil {
		return true, nil
	}
	return s.store.IsParticipant(r.Context(), conversationID, requestUserID(r))
}

// handleConversations handles POST (create) and GET (list) on
// /api/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateConversation(w, r)
	case http.MethodGet:
		s.handleListConversations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID := requestUserID(r)
	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:           uuid.New().String(),
		Title:        strings.TrimSpace(req.Title),
		CreatedBy:    userID,
		Participants: []string{userID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "created_by", userID)
	s.sendJSON(w, http.StatusCreated, conversationResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	convs, err := s.store.ListConversationsFor(r.Context(), requestUserID(r), limit)
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListConversationsResponse{Conversations: make([]ConversationResponse, len(convs))}
	for i, conv := range convs {
		resp.Conversations[i] = conversationResponse(conv)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleConversationRoutes dispatches /api/conversations/{id}[/...]:
// the conversation itself, its messages, one message's packet, or the
// current summary.
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	conversationID := parts[0]

	if _, err := uuid.Parse(conversationID); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid conversation id format")
		return
	}

	ok, err := s.canAccess(r, conversationID)
	if err != nil {
		s.logger.Error("participant check failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		// Non-participants cannot distinguish hidden from missing.
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	switch {
	case len(parts) == 1:
		s.handleGetConversation(w, r, conversationID)
	case len(parts) == 2 && parts[1] == "messages":
		s.handleConversationMessages(w, r, conversationID)
	case len(parts) == 2 && parts[1] == "summary":
		s.handleConversationSummary(w, r, conversationID)
	case len(parts) == 3 && parts[1] == "packets":
		s.handleMessagePacket(w, r, conversationID, parts[2])
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get conversation", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, conversationResponse(conv))
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	after := int64(0)
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || parsed < 0 {
			s.sendJSONError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = parsed
	}
	limit := parseLimit(r, 50)

	msgs, err := s.store.ListMessagesAfter(r.Context(), conversationID, after, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ConversationMessagesResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(msgs)),
	}
	for i, msg := range msgs {
		resp.Messages[i] = MessageResponse{
			ID:        msg.ID,
			Author:    msg.Author,
			Role:      msg.Role,
			Kind:      msg.Kind,
			Content:   msg.Content,
			Sequence:  msg.Sequence,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversationSummary(w http.ResponseWriter, r *http.Request, conversationID string) {
	summary, err := s.store.ActiveSummary(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "no summary yet")
		return
	}
	if err != nil {
		s.logger.Error("failed to get summary", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.sendJSON(w, http.StatusOK, SummaryResponse{
		ID:              summary.ID,
		ConversationID:  summary.ConversationID,
		Content:         summary.Content,
		FromSequence:    summary.FromSequence,
		ThroughSequence: summary.ThroughSequence,
		CreatedAt:       summary.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleMessagePacket(w http.ResponseWriter, r *http.Request, conversationID, messageID string) {
	packet, err := s.store.GetPacket(r.Context(), messageID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "packet not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get packet", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if packet.ConversationID != conversationID {
		s.sendJSONError(w, http.StatusNotFound, "packet not found")
		return
	}

	s.sendJSON(w, http.StatusOK, PacketResponse{
		MessageID:      packet.MessageID,
		ConversationID: packet.ConversationID,
		Stages:         packet.Stages,
		Complete:       packet.Complete,
		CreatedAt:      packet.CreatedAt.Format(time.RFC3339),
	})
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	participants := conv.Participants
	if participants == nil {
		participants = []string{}
	}
	return ConversationResponse{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedBy:    conv.CreatedBy,
		Participants: participants,
		CreatedAt:    conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    conv.UpdatedAt.Format(time.RFC3339),
	}
}

// parseLimit reads the limit query param, clamped to 1000.
func parseLimit(r *http.Request, fallback int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return fallback
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}
