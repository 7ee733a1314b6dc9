// ABOUTME: Long-term conversation memory via threshold-triggered consolidation
// ABOUTME: Summarizes unsummarized history into contiguous, non-overlapping ranges

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-ml/aura-orchestrator/internal/store"
)

const defaultThreshold = 20

// SummaryStore is the slice of the store the memory service needs.
type SummaryStore interface {
	MaxSequence(ctx context.Context, conversationID string) (int64, error)
	ListMessageRange(ctx context.Context, conversationID string, fromSequence, throughSequence int64) ([]*store.Message, error)
	ActiveSummary(ctx context.Context, conversationID string) (*store.MemorySummary, error)
	ReplaceSummary(ctx context.Context, summary *store.MemorySummary) error
}

// Generator produces a completion for a prompt. The llm client implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config configures the memory service.
type Config struct {
	Store     SummaryStore
	Generator Generator
	Threshold int          // messages past the last summary that trigger consolidation
	Logger    *slog.Logger // pass nil for default
}

// Service decides when a conversation's unsummarized history is long
// enough to consolidate, and performs the consolidation. At most one
// consolidation runs per conversation at a time; concurrent triggers
// are skipped, not queued.
type Service struct {
	store     SummaryStore
	generator Generator
	threshold int
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a memory service.
func New(cfg Config) *Service {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     cfg.Store,
		generator: cfg.Generator,
		threshold: threshold,
		logger:    logger.With("component", "memory"),
		inFlight:  make(map[string]bool),
	}
}

// MaybeConsolidate consolidates the conversation's unsummarized tail if
// it has reached the threshold. Returns true when a new summary was
// produced. A consolidation already in flight for the conversation is
// silently skipped.
func (s *Service) MaybeConsolidate(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	if s.inFlight[conversationID] {
		s.mu.Unlock()
		s.logger.Debug("consolidation already in flight", "conversation_id", conversationID)
		return false, nil
	}
	s.inFlight[conversationID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, conversationID)
		s.mu.Unlock()
	}()

	return s.consolidate(ctx, conversationID)
}

// consolidate runs with the conversation's in-flight slot held.
func (s *Service) consolidate(ctx context.Context, conversationID string) (bool, error) {
	maxSeq, err := s.store.MaxSequence(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("reading max sequence: %w", err)
	}

	var prevThrough int64
	active, err := s.store.ActiveSummary(ctx, conversationID)
	switch {
	case err == nil:
		prevThrough = active.ThroughSequence
	case errors.Is(err, store.ErrNotFound):
		prevThrough = 0
	default:
		return false, fmt.Errorf("reading active summary: %w", err)
	}

	pending := maxSeq - prevThrough
	if pending < int64(s.threshold) {
		return false, nil
	}

	from := prevThrough + 1
	messages, err := s.store.ListMessageRange(ctx, conversationID, from, maxSeq)
	if err != nil {
		return false, fmt.Errorf("reading message range: %w", err)
	}
	if len(messages) == 0 {
		return false, nil
	}

	text, err := s.generator.Generate(ctx, consolidationPrompt(messages))
	if err != nil {
		return false, fmt.Errorf("summarizing range %d-%d: %w", from, maxSeq, err)
	}

	summary := &store.MemorySummary{
		ID:              uuid.New().String(),
		ConversationID:  conversationID,
		Content:         strings.TrimSpace(text),
		FromSequence:    from,
		ThroughSequence: maxSeq,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.ReplaceSummary(ctx, summary); err != nil {
		return false, fmt.Errorf("replacing summary: %w", err)
	}

	s.logger.Info("memory consolidated",
		"conversation_id", conversationID,
		"from_sequence", from,
		"through_sequence", maxSeq,
		"messages", len(messages),
		"summary_len", len(summary.Content),
	)
	return true, nil
}

// CurrentSummary returns the conversation's active summary, or nil when
// nothing has been consolidated yet.
func (s *Service) CurrentSummary(ctx context.Context, conversationID string) (*store.MemorySummary, error) {
	summary, err := s.store.ActiveSummary(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// consolidationPrompt renders one conversation segment for the
// summarizer. The prior summary is deliberately excluded: each summary
// derives only from the raw messages in its own range.
func consolidationPrompt(messages []*store.Message) string {
	var sb strings.Builder
	sb.WriteString(`You are a conversation memory consolidator. Summarize the following conversation segment concisely, preserving the speaker's emotional state, key facts, and unresolved topics. Keep the summary under 200 words.

Segment:
`)
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		if m.Kind == store.KindText {
			sb.WriteString(m.Content)
		} else {
			sb.WriteString(fmt.Sprintf("[%s message]", m.Kind))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
