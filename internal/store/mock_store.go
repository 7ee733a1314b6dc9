// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation    // keyed by conversation ID
	participants  map[string]map[string]bool  // conversationID -> user ID set
	messages      map[string][]*Message       // keyed by conversationID, ascending sequence
	packets       map[string]*AnalysisPacket  // keyed by message ID
	summaries     map[string][]*MemorySummary // keyed by conversationID, newest range first
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		participants:  make(map[string]map[string]bool),
		messages:      make(map[string][]*Message),
		packets:       make(map[string]*AnalysisPacket),
		summaries:     make(map[string][]*MemorySummary),
	}
}

// CreateConversation stores a new conversation and its participants.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicateConversation
	}

	// Make a copy to avoid external modification
	c := *conv
	c.Participants = nil
	m.conversations[c.ID] = &c

	members := make(map[string]bool)
	if conv.CreatedBy != "" {
		members[conv.CreatedBy] = true
	}
	for _, p := range conv.Participants {
		members[p] = true
	}
	m.participants[conv.ID] = members

	return nil
}

// GetConversation retrieves a conversation by ID with its participant list.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	for userID := range m.participants[id] {
		result.Participants = append(result.Participants, userID)
	}
	sort.Strings(result.Participants)
	return &result, nil
}

// ListConversationsFor returns the user's conversations, most recently
// active first.
func (m *MockStore) ListConversationsFor(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var result []*Conversation
	for id, c := range m.conversations {
		if m.participants[id][userID] {
			copied := *c
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TouchConversation bumps a conversation's updated_at timestamp.
func (m *MockStore) TouchConversation(ctx context.Context, id string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = updatedAt
	return nil
}

// AddParticipant records a user as a conversation participant.
func (m *MockStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	if m.participants[conversationID] == nil {
		m.participants[conversationID] = make(map[string]bool)
	}
	m.participants[conversationID][userID] = true
	return nil
}

// IsParticipant reports whether the user participates in the conversation.
func (m *MockStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.participants[conversationID][userID], nil
}

// AppendMessage stores a message, enforcing sequence uniqueness per
// conversation.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}

	for _, existing := range m.messages[msg.ConversationID] {
		if existing.Sequence == msg.Sequence {
			return ErrDuplicateSequence
		}
	}

	// Make a copy to avoid external modification
	stored := *msg
	if stored.Kind == "" {
		stored.Kind = KindText
	}
	msgs := append(m.messages[msg.ConversationID], &stored)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Sequence < msgs[j].Sequence })
	m.messages[msg.ConversationID] = msgs

	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				result := *msg
				return &result, nil
			}
		}
	}
	return nil, ErrNotFound
}

// ListRecentMessages returns the trailing limit messages in ascending
// sequence order.
func (m *MockStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	msgs := m.messages[conversationID]
	start := 0
	if len(msgs) > limit {
		start = len(msgs) - limit
	}

	result := make([]*Message, 0, len(msgs)-start)
	for _, msg := range msgs[start:] {
		copied := *msg
		result = append(result, &copied)
	}
	return result, nil
}

// ListMessagesAfter returns up to limit messages with sequence strictly
// greater than afterSequence, ascending.
func (m *MockStore) ListMessagesAfter(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var result []*Message
	for _, msg := range m.messages[conversationID] {
		if msg.Sequence > afterSequence {
			copied := *msg
			result = append(result, &copied)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

// ListMessageRange returns messages with fromSequence <= sequence <=
// throughSequence, ascending.
func (m *MockStore) ListMessageRange(ctx context.Context, conversationID string, fromSequence, throughSequence int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages[conversationID] {
		if msg.Sequence >= fromSequence && msg.Sequence <= throughSequence {
			copied := *msg
			result = append(result, &copied)
		}
	}
	return result, nil
}

// MaxSequence returns the highest persisted sequence for the conversation,
// or 0 when it has no messages.
func (m *MockStore) MaxSequence(ctx context.Context, conversationID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].Sequence, nil
}

// SavePacket stores the analysis packet for a message.
func (m *MockStore) SavePacket(ctx context.Context, packet *AnalysisPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Deep copy: the stages map is mutable in the caller
	stored := *packet
	stored.Stages = make(map[string]*StageResult, len(packet.Stages))
	for name, result := range packet.Stages {
		if result == nil {
			stored.Stages[name] = nil
			continue
		}
		copied := *result
		stored.Stages[name] = &copied
	}
	m.packets[packet.MessageID] = &stored

	return nil
}

// GetPacket retrieves the analysis packet for a message.
func (m *MockStore) GetPacket(ctx context.Context, messageID string) (*AnalysisPacket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.packets[messageID]
	if !ok {
		return nil, ErrNotFound
	}

	result := *p
	result.Stages = make(map[string]*StageResult, len(p.Stages))
	for name, sr := range p.Stages {
		if sr == nil {
			result.Stages[name] = nil
			continue
		}
		copied := *sr
		result.Stages[name] = &copied
	}
	return &result, nil
}

// ActiveSummary returns the conversation's current summary.
func (m *MockStore) ActiveSummary(ctx context.Context, conversationID string) (*MemorySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.summaries[conversationID] {
		if s.SupersededAt == nil {
			result := *s
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ReplaceSummary installs a new current summary, retiring the prior one.
// Enforces the same contiguity rule as the SQLite store.
func (m *MockStore) ReplaceSummary(ctx context.Context, summary *MemorySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if summary.FromSequence < 1 || summary.ThroughSequence < summary.FromSequence {
		return ErrSummaryOverlap
	}

	var current *MemorySummary
	for _, s := range m.summaries[summary.ConversationID] {
		if s.SupersededAt == nil {
			current = s
			break
		}
	}

	if current == nil {
		if summary.FromSequence != 1 {
			return ErrSummaryOverlap
		}
	} else {
		if summary.FromSequence != current.ThroughSequence+1 {
			return ErrSummaryOverlap
		}
		now := time.Now().UTC()
		current.SupersededAt = &now
	}

	stored := *summary
	stored.SupersededAt = nil
	m.summaries[summary.ConversationID] = append([]*MemorySummary{&stored}, m.summaries[summary.ConversationID]...)

	return nil
}

// ListSummaries returns all summaries for a conversation, newest range
// first.
func (m *MockStore) ListSummaries(ctx context.Context, conversationID string) ([]*MemorySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := m.summaries[conversationID]
	result := make([]*MemorySummary, 0, len(summaries))
	for _, s := range summaries {
		copied := *s
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FromSequence > result[j].FromSequence })
	return result, nil
}

// Ping always succeeds for the mock store.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
