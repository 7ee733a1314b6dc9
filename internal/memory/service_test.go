// ABOUTME: Tests for the memory consolidation service
// ABOUTME: Covers thresholds, contiguous ranges, and the single-flight guarantee

package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-ml/aura-orchestrator/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGenerator records prompts and answers with canned text.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	text    string
	err     error
	delay   time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if g.err != nil {
		return "", g.err
	}
	if g.text != "" {
		return g.text, nil
	}
	return "a concise summary", nil
}

func (g *fakeGenerator) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
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

func TestMaybeConsolidate_BelowThreshold(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 2)
	gen := &fakeGenerator{}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")

	require.NoError(t, err)
	assert.False(t, consolidated)
	assert.Empty(t, gen.seen(), "the generator must not be called below threshold")
}

func TestMaybeConsolidate_AtThreshold(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 3)
	gen := &fakeGenerator{text: "the user is worried about exams"}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")

	require.NoError(t, err)
	assert.True(t, consolidated)

	summary, err := mock.ActiveSummary(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.FromSequence)
	assert.Equal(t, int64(3), summary.ThroughSequence)
	assert.Equal(t, "the user is worried about exams", summary.Content)
}

func TestMaybeConsolidate_SecondRangeIsContiguous(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 3)
	gen := &fakeGenerator{}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")
	require.NoError(t, err)
	require.True(t, consolidated)

	for i := 4; i <= 6; i++ {
		require.NoError(t, mock.AppendMessage(context.Background(), &store.Message{
			ID:             fmt.Sprintf("conv-1-msg-%d", i),
			ConversationID: "conv-1",
			Author:         "user-1",
			Role:           store.RoleUser,
			Kind:           store.KindText,
			Content:        fmt.Sprintf("message number %d", i),
			Sequence:       int64(i),
			CreatedAt:      time.Now().UTC(),
		}))
	}

	consolidated, err = svc.MaybeConsolidate(context.Background(), "conv-1")
	require.NoError(t, err)
	require.True(t, consolidated)

	summary, err := mock.ActiveSummary(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.FromSequence)
	assert.Equal(t, int64(6), summary.ThroughSequence)

	all, err := mock.ListSummaries(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, all, 2, "the superseded summary stays archived")
}

func TestMaybeConsolidate_PromptContainsOnlyTheRange(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 3)
	require.NoError(t, mock.AppendMessage(context.Background(), &store.Message{
		ID:             "conv-1-msg-4",
		ConversationID: "conv-1",
		Author:         "user-1",
		Role:           store.RoleUser,
		Kind:           store.KindAudio,
		Content:        "bm90IHRleHQ=",
		Sequence:       4,
		CreatedAt:      time.Now().UTC(),
	}))
	gen := &fakeGenerator{}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")
	require.NoError(t, err)
	require.True(t, consolidated)

	prompts := gen.seen()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "user: message number 1")
	assert.Contains(t, prompts[0], "user: [audio message]", "media payloads are not inlined into prompts")
	assert.NotContains(t, prompts[0], "bm90IHRleHQ=")
}

func TestMaybeConsolidate_GeneratorFailure(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 3)
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")

	require.Error(t, err)
	assert.False(t, consolidated)
	_, err = mock.ActiveSummary(context.Background(), "conv-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "no summary may be written when generation fails")
}

// slowStore delays range reads to hold consolidations in flight.
type slowStore struct {
	*store.MockStore
	delay time.Duration
}

func (s *slowStore) ListMessageRange(ctx context.Context, conversationID string, fromSequence, throughSequence int64) ([]*store.Message, error) {
	time.Sleep(s.delay)
	return s.MockStore.ListMessageRange(ctx, conversationID, fromSequence, throughSequence)
}

func TestMaybeConsolidate_ConcurrentTriggersProduceOneSummary(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 3)
	slow := &slowStore{MockStore: mock, delay: 100 * time.Millisecond}
	gen := &fakeGenerator{}
	svc := New(Config{Store: slow, Generator: gen, Threshold: 3, Logger: testLogger()})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")
			assert.NoError(t, err)
			if consolidated {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one trigger may consolidate")

	all, err := mock.ListSummaries(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), all[0].FromSequence)
	assert.Equal(t, int64(3), all[0].ThroughSequence)
}

func TestMaybeConsolidate_RapidAppendsYieldOneSummary(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 0)
	gen := &fakeGenerator{}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	var produced int
	for i := 1; i <= 5; i++ {
		require.NoError(t, mock.AppendMessage(context.Background(), &store.Message{
			ID:             fmt.Sprintf("conv-1-msg-%d", i),
			ConversationID: "conv-1",
			Author:         "user-1",
			Role:           store.RoleUser,
			Kind:           store.KindText,
			Content:        fmt.Sprintf("message number %d", i),
			Sequence:       int64(i),
			CreatedAt:      time.Now().UTC(),
		}))
		consolidated, err := svc.MaybeConsolidate(context.Background(), "conv-1")
		require.NoError(t, err)
		if consolidated {
			produced++
		}
	}

	assert.Equal(t, 1, produced, "messages four and five sit below the next threshold")

	all, err := mock.ListSummaries(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), all[0].FromSequence)
	assert.Equal(t, int64(3), all[0].ThroughSequence)
}

func TestCurrentSummary(t *testing.T) {
	mock := store.NewMockStore()
	seedConversation(t, mock, "conv-1", 3)
	gen := &fakeGenerator{text: "summary text"}
	svc := New(Config{Store: mock, Generator: gen, Threshold: 3, Logger: testLogger()})

	summary, err := svc.CurrentSummary(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, summary, "no summary exists before consolidation")

	_, err = svc.MaybeConsolidate(context.Background(), "conv-1")
	require.NoError(t, err)

	summary, err = svc.CurrentSummary(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "summary text", summary.Content)
}
