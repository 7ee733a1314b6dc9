// ABOUTME: Builds the assistant response from the analysis packet and conversation memory
// ABOUTME: Prompt degrades by omission when signals are absent; rendering is markdown to HTML

package respond

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/aura-ml/aura-orchestrator/internal/stage"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

const (
	defaultRecentWindow = 10

	// fallbackReply is used when the generative service fails: the
	// conversation still gets a response rather than a visible error.
	fallbackReply = "I'm having trouble putting together a reply right now. Could you say that again?"
)

// Generator produces a completion for a prompt. The llm client implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HistoryStore is the slice of the store the responder reads.
type HistoryStore interface {
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// SummarySource serves the conversation's current memory summary.
// The memory service implements it.
type SummarySource interface {
	CurrentSummary(ctx context.Context, conversationID string) (*store.MemorySummary, error)
}

// Config configures the responder.
type Config struct {
	Store        HistoryStore
	Memory       SummarySource
	Generator    Generator
	RecentWindow int          // trailing messages included in the prompt
	Logger       *slog.Logger // pass nil for default
}

// Responder turns one analyzed message into the assistant's reply.
type Responder struct {
	store        HistoryStore
	memory       SummarySource
	generator    Generator
	recentWindow int
	logger       *slog.Logger
}

// New creates a responder.
func New(cfg Config) *Responder {
	window := cfg.RecentWindow
	if window <= 0 {
		window = defaultRecentWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		store:        cfg.Store,
		memory:       cfg.Memory,
		generator:    cfg.Generator,
		recentWindow: window,
		logger:       logger.With("component", "respond"),
	}
}

// Generate produces the assistant message for an analyzed inbound
// message. The caller assigns the sequence number and persists it.
//
// The prompt combines the current memory summary, the trailing window
// of raw messages, and whatever stage signals the packet holds; absent
// signals are omitted, never errors. Store reads may fail the call, a
// generative-service failure yields a fallback reply instead.
func (r *Responder) Generate(ctx context.Context, conversationID string, packet *store.AnalysisPacket) (*store.Message, error) {
	summary, err := r.memory.CurrentSummary(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}

	recent, err := r.store.ListRecentMessages(ctx, conversationID, r.recentWindow)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if summary != nil {
		// The summary already covers the older history; keep only the
		// unsummarized tail in the prompt.
		unsummarized := recent[:0]
		for _, m := range recent {
			if m.Sequence > summary.ThroughSequence {
				unsummarized = append(unsummarized, m)
			}
		}
		recent = unsummarized
	}

	prompt := buildPrompt(summary, recent, packet)
	text, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("generation failed, using fallback reply",
			"conversation_id", conversationID,
			"message_id", packet.MessageID,
			"error", err,
		)
		text = fallbackReply
	}

	return &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Author:         "assistant",
		Role:           store.RoleAssistant,
		Kind:           store.KindText,
		Content:        strings.TrimSpace(text),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// promptSignals maps stage names to their prompt labels, in render order.
var promptSignals = []struct {
	stage string
	label string
}{
	{stage.Transcription, "transcript"},
	{stage.VocalEmotion, "vocal emotion"},
	{stage.VideoFeature, "visual cues"},
	{stage.ContextualInference, "inferred context"},
	{stage.CauseExtraction, "likely cause"},
}

func buildPrompt(summary *store.MemorySummary, recent []*store.Message, packet *store.AnalysisPacket) string {
	var sb strings.Builder
	sb.WriteString("You are Aura, an attentive, emotionally aware assistant. Reply to the latest user message in this conversation. Be concise and natural.\n")

	if summary != nil && summary.Content != "" {
		sb.WriteString("\nMemory of the earlier conversation:\n")
		sb.WriteString(summary.Content)
		sb.WriteString("\n")
	}

	if len(recent) > 0 {
		sb.WriteString("\nRecent messages:\n")
		for _, m := range recent {
			sb.WriteString(m.Role)
			sb.WriteString(": ")
			if m.Kind == store.KindText {
				sb.WriteString(m.Content)
			} else {
				sb.WriteString(fmt.Sprintf("[%s message]", m.Kind))
			}
			sb.WriteString("\n")
		}
	}

	var signals []string
	for _, ps := range promptSignals {
		if res := packet.Stages[ps.stage]; res != nil && res.Result != "" {
			signals = append(signals, fmt.Sprintf("- %s: %s", ps.label, res.Result))
		}
	}
	if len(signals) > 0 {
		sb.WriteString("\nSignals extracted from the latest message:\n")
		sb.WriteString(strings.Join(signals, "\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\nReply:")
	return sb.String()
}

// RenderHTML converts response markdown to HTML for broadcast frames.
// Unrenderable input falls back to the escaped source text.
func RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "<p>" + html.EscapeString(markdown) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}
