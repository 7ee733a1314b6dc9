// ABOUTME: Tracks live client sessions grouped by conversation
// ABOUTME: Per-conversation locking so unrelated conversations never serialize

package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateSession indicates a session with the same ID is already registered.
var ErrDuplicateSession = errors.New("session already registered")

// Sender delivers one outbound frame to a client socket.
// A Send error marks the session stale.
type Sender interface {
	Send(payload []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(payload []byte) error

// Send calls f(payload).
func (f SenderFunc) Send(payload []byte) error { return f(payload) }

// Session is one live client socket attached to a conversation.
type Session struct {
	ID             string
	ConversationID string
	UserID         string
	ConnectedAt    time.Time
	Sender         Sender
}

// conversationSet holds the sessions of a single conversation behind its
// own lock, so broadcasts to different conversations proceed in parallel.
type conversationSet struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry coordinates all live sessions. The outer lock only guards the
// conversation and session-index maps; per-conversation sets carry their
// own locks.
type Registry struct {
	mu            sync.RWMutex
	conversations map[string]*conversationSet
	byID          map[string]string // session ID → conversation ID
	logger        *slog.Logger
}

// NewRegistry creates an empty session registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conversations: make(map[string]*conversationSet),
		byID:          make(map[string]string),
		logger:        logger.With("component", "session-registry"),
	}
}

// Register adds a session under its conversation.
// Returns ErrDuplicateSession if the session ID is already live.
func (r *Registry) Register(sess *Session) error {
	if sess.ConnectedAt.IsZero() {
		sess.ConnectedAt = time.Now()
	}

	r.mu.Lock()
	if _, exists := r.byID[sess.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	set, ok := r.conversations[sess.ConversationID]
	if !ok {
		set = &conversationSet{sessions: make(map[string]*Session)}
		r.conversations[sess.ConversationID] = set
	}
	r.byID[sess.ID] = sess.ConversationID
	total := len(r.byID)
	// Insert under the outer lock so an empty-set sweep in Deregister
	// cannot drop the set between the index update and the insert.
	set.mu.Lock()
	set.sessions[sess.ID] = sess
	set.mu.Unlock()
	r.mu.Unlock()

	r.logger.Info("=== SESSION CONNECTED ===",
		"session_id", sess.ID,
		"conversation_id", sess.ConversationID,
		"user_id", sess.UserID,
		"total_sessions", total,
	)
	return nil
}

// Deregister removes a session. Unknown IDs are a no-op.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	conversationID, exists := r.byID[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.byID, sessionID)
	set := r.conversations[conversationID]
	total := len(r.byID)
	r.mu.Unlock()

	if set != nil {
		set.mu.Lock()
		delete(set.sessions, sessionID)
		empty := len(set.sessions) == 0
		set.mu.Unlock()

		if empty {
			r.mu.Lock()
			// Re-check under the outer lock: a concurrent Register may have
			// repopulated the set in the meantime.
			if cur, ok := r.conversations[conversationID]; ok && cur == set {
				cur.mu.RLock()
				if len(cur.sessions) == 0 {
					delete(r.conversations, conversationID)
				}
				cur.mu.RUnlock()
			}
			r.mu.Unlock()
		}
	}

	r.logger.Info("=== SESSION DISCONNECTED ===",
		"session_id", sessionID,
		"conversation_id", conversationID,
		"total_sessions", total,
	)
}

// Broadcast delivers payload to every live session of the conversation.
// A session whose Send fails is logged, scheduled for deregistration, and
// must not prevent delivery to the remaining sessions. Returns the number
// of successful deliveries.
func (r *Registry) Broadcast(conversationID string, payload []byte) int {
	sessions := r.snapshot(conversationID)
	if len(sessions) == 0 {
		return 0
	}

	var stale []string
	delivered := 0
	for _, sess := range sessions {
		if err := sess.Sender.Send(payload); err != nil {
			r.logger.Warn("broadcast to stale session",
				"session_id", sess.ID,
				"conversation_id", conversationID,
				"error", err,
			)
			stale = append(stale, sess.ID)
			continue
		}
		delivered++
	}

	for _, id := range stale {
		r.Deregister(id)
	}
	return delivered
}

// ListSessions returns the conversation's live sessions, oldest first.
func (r *Registry) ListSessions(conversationID string) []*Session {
	sessions := r.snapshot(conversationID)
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

// Count returns the number of live sessions across all conversations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// snapshot copies the conversation's session list without holding any
// lock during delivery.
func (r *Registry) snapshot(conversationID string) []*Session {
	r.mu.RLock()
	set, ok := r.conversations[conversationID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	sessions := make([]*Session, 0, len(set.sessions))
	for _, sess := range set.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}
