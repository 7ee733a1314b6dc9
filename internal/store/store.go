// ABOUTME: Store interface and data types for aura-orchestrator persistence
// ABOUTME: Defines Conversation, Message, AnalysisPacket, MemorySummary and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateSequence is returned when a message insert collides with an
// already-persisted (conversation, sequence) pair
var ErrDuplicateSequence = errors.New("sequence already persisted for conversation")

// ErrSummaryOverlap is returned when a new summary's range does not start
// immediately after the range covered by the conversation's current summary
var ErrSummaryOverlap = errors.New("summary range overlaps existing summary")

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Kind constants for message payload modality
const (
	KindText  = "text"
	KindAudio = "audio"
	KindVideo = "video"
)

// Conversation is a logical channel grouping live sessions and an ordered,
// append-only message log
type Conversation struct {
	ID           string
	Title        string
	CreatedBy    string
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one unit of user or assistant content within a conversation.
// Sequence is assigned by the conversation's router and is strictly
// increasing with no gaps. Messages are immutable once appended.
type Message struct {
	ID             string
	ConversationID string
	Author         string
	Role           string // "user", "assistant", "system"
	Kind           string // "text", "audio", "video"
	Content        string
	Sequence       int64
	CreatedAt      time.Time
}

// StageResult is the recorded output of one analysis stage for one message.
// A nil entry in AnalysisPacket.Stages means the stage timed out or failed.
type StageResult struct {
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence,omitempty"`
	ElapsedMS  int64   `json:"elapsed_ms"`
}

// AnalysisPacket is the aggregated result of one pipeline run over one
// message. Retained read-only after the response is generated so clients
// can inspect which signals informed it.
type AnalysisPacket struct {
	MessageID      string
	ConversationID string
	Stages         map[string]*StageResult
	Complete       bool
	CreatedAt      time.Time
}

// MemorySummary is the consolidated representation of a contiguous range of
// a conversation's messages. At most one summary per conversation is
// current; replaced summaries are retained with SupersededAt set.
type MemorySummary struct {
	ID              string
	ConversationID  string
	Content         string
	FromSequence    int64
	ThroughSequence int64
	CreatedAt       time.Time
	SupersededAt    *time.Time
}

// Store defines the interface for conversation, message, packet, and
// summary persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsFor(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, updatedAt time.Time) error
	AddParticipant(ctx context.Context, conversationID, userID string) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// Messages (append-only log)
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	ListMessagesAfter(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]*Message, error)
	ListMessageRange(ctx context.Context, conversationID string, fromSequence, throughSequence int64) ([]*Message, error)
	MaxSequence(ctx context.Context, conversationID string) (int64, error)

	// Analysis packets (for audit and explanation views)
	SavePacket(ctx context.Context, packet *AnalysisPacket) error
	GetPacket(ctx context.Context, messageID string) (*AnalysisPacket, error)

	// Memory summaries
	ActiveSummary(ctx context.Context, conversationID string) (*MemorySummary, error)
	ReplaceSummary(ctx context.Context, summary *MemorySummary) error
	ListSummaries(ctx context.Context, conversationID string) ([]*MemorySummary, error)

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
