// ABOUTME: Tests for response generation and prompt assembly
// ABOUTME: Covers degradation when signals, summary, or the generator are unavailable

package respond

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-ml/aura-orchestrator/internal/stage"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGenerator struct {
	prompts []string
	text    string
	err     error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.text, nil
}

type fakeMemory struct {
	summary *store.MemorySummary
	err     error
}

func (m *fakeMemory) CurrentSummary(ctx context.Context, conversationID string) (*store.MemorySummary, error) {
	return m.summary, m.err
}

func seedConversation(t *testing.T, s store.Store, conversationID string, messages int) {
	t.Helper()

	err := s.CreateConversation(context.Background(), &store.Conversation{
		ID:        conversationID,
		CreatedBy: "user-1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	for i := 1; i <= messages; i++ {
		err := s.AppendMessage(context.Background(), &store.Message{
			ID:             fmt.Sprintf("%s-msg-%d", conversationID, i),
			ConversationID: conversationID,
			Author:         "user-1",
			Role:           store.RoleUser,
			Kind:           store.KindText,
			Content:        fmt.Sprintf("message number %d", i),
			Sequence:       int64(i),
			CreatedAt:      time.Now().UTC(),
		})
		require.NoError(t, err)
	}
}

func fullPacket(messageID string) *store.AnalysisPacket {
	return &store.AnalysisPacket{
		MessageID:      messageID,
		ConversationID: "conv-1",
		Stages: map[string]*store.StageResult{
			stage.Transcription:       {Result: "I missed the deadline again"},
			stage.VocalEmotion:        {Result: "frustrated", Confidence: 0.9},
			stage.VideoFeature:        nil,
			stage.ContextualInference: {Result: "work stress about time management"},
			stage.CauseExtraction:     {Result: "overcommitted schedule"},
		},
		Complete:  true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestGenerate_FullPacket(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 3)
	gen := &fakeGenerator{text: "That sounds rough. What made this one slip?"}

	r := New(Config{
		Store:     st,
		Memory:    &fakeMemory{},
		Generator: gen,
		Logger:    testLogger(),
	})

	msg, err := r.Generate(context.Background(), "conv-1", fullPacket("conv-1-msg-3"))
	require.NoError(t, err)

	assert.Equal(t, store.RoleAssistant, msg.Role)
	assert.Equal(t, "assistant", msg.Author)
	assert.Equal(t, store.KindText, msg.Kind)
	assert.Equal(t, "That sounds rough. What made this one slip?", msg.Content)
	assert.Zero(t, msg.Sequence, "responder must not assign sequence numbers")
	assert.NotEmpty(t, msg.ID)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "- transcript: I missed the deadline again")
	assert.Contains(t, prompt, "- vocal emotion: frustrated")
	assert.Contains(t, prompt, "- inferred context: work stress about time management")
	assert.Contains(t, prompt, "- likely cause: overcommitted schedule")
	assert.NotContains(t, prompt, "visual cues", "absent stage must be omitted")
	assert.Contains(t, prompt, "user: message number 3")
}

func TestGenerate_AbsentSignalsOmitted(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 1)
	gen := &fakeGenerator{text: "Tell me more."}

	r := New(Config{Store: st, Memory: &fakeMemory{}, Generator: gen, Logger: testLogger()})

	packet := &store.AnalysisPacket{
		MessageID:      "conv-1-msg-1",
		ConversationID: "conv-1",
		Stages: map[string]*store.StageResult{
			stage.Transcription:       {Result: "hello there"},
			stage.VocalEmotion:        nil,
			stage.ContextualInference: nil,
			stage.CauseExtraction:     nil,
		},
		Complete: false,
	}

	_, err := r.Generate(context.Background(), "conv-1", packet)
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "- transcript: hello there")
	assert.NotContains(t, prompt, "vocal emotion")
	assert.NotContains(t, prompt, "inferred context")
	assert.NotContains(t, prompt, "likely cause")
}

func TestGenerate_AllSignalsAbsent(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 1)
	gen := &fakeGenerator{text: "I could not quite catch that."}

	r := New(Config{Store: st, Memory: &fakeMemory{}, Generator: gen, Logger: testLogger()})

	packet := &store.AnalysisPacket{
		MessageID:      "conv-1-msg-1",
		ConversationID: "conv-1",
		Stages: map[string]*store.StageResult{
			stage.Transcription: nil,
			stage.VocalEmotion:  nil,
		},
		Complete: false,
	}

	msg, err := r.Generate(context.Background(), "conv-1", packet)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Content)

	prompt := gen.prompts[0]
	assert.NotContains(t, prompt, "Signals extracted")
	assert.Contains(t, prompt, "user: message number 1")
}

func TestGenerate_SummaryIncludedAndTailFiltered(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 6)
	gen := &fakeGenerator{text: "ok"}
	mem := &fakeMemory{summary: &store.MemorySummary{
		ID:              "sum-1",
		ConversationID:  "conv-1",
		Content:         "User has been worried about deadlines all week.",
		FromSequence:    1,
		ThroughSequence: 4,
	}}

	r := New(Config{Store: st, Memory: mem, Generator: gen, Logger: testLogger()})

	_, err := r.Generate(context.Background(), "conv-1", fullPacket("conv-1-msg-6"))
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "User has been worried about deadlines all week.")
	assert.Contains(t, prompt, "user: message number 5")
	assert.Contains(t, prompt, "user: message number 6")
	assert.NotContains(t, prompt, "message number 4", "summarized history must not repeat in the prompt")
	assert.NotContains(t, prompt, "message number 1")
}

func TestGenerate_RecentWindowLimitsHistory(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 8)
	gen := &fakeGenerator{text: "ok"}

	r := New(Config{Store: st, Memory: &fakeMemory{}, Generator: gen, RecentWindow: 3, Logger: testLogger()})

	_, err := r.Generate(context.Background(), "conv-1", fullPacket("conv-1-msg-8"))
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "message number 6")
	assert.Contains(t, prompt, "message number 8")
	assert.NotContains(t, prompt, "message number 5")
}

func TestGenerate_MediaMessagesRenderedAsPlaceholders(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.CreateConversation(context.Background(), &store.Conversation{
		ID: "conv-1", CreatedBy: "user-1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.AppendMessage(context.Background(), &store.Message{
		ID: "m1", ConversationID: "conv-1", Author: "user-1", Role: store.RoleUser,
		Kind: store.KindAudio, Content: "QUJDRA==", Sequence: 1, CreatedAt: time.Now().UTC(),
	}))
	gen := &fakeGenerator{text: "ok"}

	r := New(Config{Store: st, Memory: &fakeMemory{}, Generator: gen, Logger: testLogger()})

	_, err := r.Generate(context.Background(), "conv-1", fullPacket("m1"))
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "user: [audio message]")
	assert.NotContains(t, prompt, "QUJDRA==", "raw media payloads must not reach the prompt")
}

func TestGenerate_GeneratorFailureYieldsFallback(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 1)
	gen := &fakeGenerator{err: errors.New("model overloaded")}

	r := New(Config{Store: st, Memory: &fakeMemory{}, Generator: gen, Logger: testLogger()})

	msg, err := r.Generate(context.Background(), "conv-1", fullPacket("conv-1-msg-1"))
	require.NoError(t, err, "generator outages must not surface as errors")
	assert.Equal(t, fallbackReply, msg.Content)
	assert.Equal(t, store.RoleAssistant, msg.Role)
}

func TestGenerate_SummaryReadFailure(t *testing.T) {
	st := store.NewMockStore()
	seedConversation(t, st, "conv-1", 1)
	gen := &fakeGenerator{text: "ok"}
	mem := &fakeMemory{err: errors.New("db locked")}

	r := New(Config{Store: st, Memory: mem, Generator: gen, Logger: testLogger()})

	_, err := r.Generate(context.Background(), "conv-1", fullPacket("conv-1-msg-1"))
	require.Error(t, err)
	assert.Empty(t, gen.prompts, "no generation attempt without conversation state")
}

func TestRenderHTML(t *testing.T) {
	html := RenderHTML("Take a **deep breath** first.")
	assert.Contains(t, html, "<strong>deep breath</strong>")
	assert.True(t, len(html) > 0)
}

func TestRenderHTML_PlainText(t *testing.T) {
	html := RenderHTML("just words")
	assert.Contains(t, html, "just words")
}
