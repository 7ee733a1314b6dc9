// ABOUTME: Tests for the REST API handlers and participant gating
// ABOUTME: Exercises routes against a mock store with and without auth enabled

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-ml/aura-orchestrator/internal/auth"
	"github.com/aura-ml/aura-orchestrator/internal/config"
	"github.com/aura-ml/aura-orchestrator/internal/dedupe"
	"github.com/aura-ml/aura-orchestrator/internal/session"
	"github.com/aura-ml/aura-orchestrator/internal/stage"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiFixture struct {
	server *Server
	store  *store.MockStore
	ts     *httptest.Server
}

func newAPIFixture(t *testing.T, verifier auth.TokenVerifier) *apiFixture {
	t.Helper()
	st := store.NewMockStore()
	cache := dedupe.New(5*time.Minute, 1000)
	t.Cleanup(cache.Close)
	s := &Server{
		config:   &config.Config{},
		logger:   testLogger(),
		store:    st,
		registry: session.NewRegistry(testLogger()),
		stages:   &stage.Set{},
		verifier: verifier,
		dedupe:   cache,
		conns:    make(map[*websocket.Conn]struct{}),
	}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return &apiFixture{server: s, store: st, ts: ts}
}

func (f *apiFixture) seedConversation(t *testing.T, createdBy string) string {
	t.Helper()
	id := uuid.New().String()
	err := f.store.CreateConversation(context.Background(), &store.Conversation{
		ID:        id,
		Title:     "seeded",
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func (f *apiFixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateConversation(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp := f.post(t, "/api/conversations", "", CreateConversationRequest{Title: "My day"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeJSON[ConversationResponse](t, resp)
	assert.Equal(t, "My day", created.Title)
	assert.Equal(t, "anonymous", created.CreatedBy)
	_, err := uuid.Parse(created.ID)
	assert.NoError(t, err)
}

func TestListConversations(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seedConversation(t, "anonymous")
	f.seedConversation(t, "anonymous")
	f.seedConversation(t, "someone-else")

	resp := f.get(t, "/api/conversations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decodeJSON[ListConversationsResponse](t, resp)
	assert.Len(t, list.Conversations, 2, "only the requester's conversations are listed")
}

func TestGetConversation(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.seedConversation(t, "anonymous")

	resp := f.get(t, "/api/conversations/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decodeJSON[ConversationResponse](t, resp)
	assert.Equal(t, id, conv.ID)
	assert.Equal(t, "seeded", conv.Title)
}

func TestGetConversation_NotFound(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp := f.get(t, "/api/conversations/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetConversation_InvalidID(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp := f.get(t, "/api/conversations/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversationMessages(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.seedConversation(t, "anonymous")
	for i := 1; i <= 4; i++ {
		require.NoError(t, f.store.AppendMessage(context.Background(), &store.Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: id,
			Author:         "anonymous",
			Role:           store.RoleUser,
			Kind:           store.KindText,
			Content:        fmt.Sprintf("message %d", i),
			Sequence:       int64(i),
			CreatedAt:      time.Now().UTC(),
		}))
	}

	resp := f.get(t, "/api/conversations/"+id+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeJSON[ConversationMessagesResponse](t, resp)
	require.Len(t, history.Messages, 4)
	for i, msg := range history.Messages {
		assert.Equal(t, int64(i+1), msg.Sequence, "messages come back in sequence order")
	}

	resp = f.get(t, "/api/conversations/"+id+"/messages?after=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tail := decodeJSON[ConversationMessagesResponse](t, resp)
	require.Len(t, tail.Messages, 2)
	assert.Equal(t, int64(3), tail.Messages[0].Sequence)
}

func TestMessagePacket(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.seedConversation(t, "anonymous")
	require.NoError(t, f.store.SavePacket(context.Background(), &store.AnalysisPacket{
		MessageID:      "msg-1",
		ConversationID: id,
		Stages: map[string]*store.StageResult{
			stage.Transcription: {Result: "hello", Confidence: 0.95},
			stage.VocalEmotion:  nil,
		},
		Complete:  false,
		CreatedAt: time.Now().UTC(),
	}))

	resp := f.get(t, "/api/conversations/"+id+"/packets/msg-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	packet := decodeJSON[PacketResponse](t, resp)
	assert.False(t, packet.Complete)
	require.NotNil(t, packet.Stages[stage.Transcription])
	assert.Equal(t, "hello", packet.Stages[stage.Transcription].Result)
	val, present := packet.Stages[stage.VocalEmotion]
	assert.True(t, present, "absent stage is an explicit null")
	assert.Nil(t, val)
}

func TestMessagePacket_WrongConversation(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.seedConversation(t, "anonymous")
	other := f.seedConversation(t, "anonymous")
	require.NoError(t, f.store.SavePacket(context.Background(), &store.AnalysisPacket{
		MessageID:      "msg-1",
		ConversationID: other,
		Stages:         map[string]*store.StageResult{},
		CreatedAt:      time.Now().UTC(),
	}))

	resp := f.get(t, "/api/conversations/"+id+"/packets/msg-1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversationSummary(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := f.seedConversation(t, "anonymous")

	resp := f.get(t, "/api/conversations/"+id+"/summary", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no summary yet")

	require.NoError(t, f.store.ReplaceSummary(context.Background(), &store.MemorySummary{
		ID:              "sum-1",
		ConversationID:  id,
		Content:         "Talked about exams.",
		FromSequence:    1,
		ThroughSequence: 5,
		CreatedAt:       time.Now().UTC(),
	}))

	resp = f.get(t, "/api/conversations/"+id+"/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeJSON[SummaryResponse](t, resp)
	assert.Equal(t, "Talked about exams.", summary.Content)
	assert.Equal(t, int64(5), summary.ThroughSequence)
}

func TestAuth_MissingToken(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	f := newAPIFixture(t, verifier)

	resp := f.get(t, "/api/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_ParticipantGating(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	f := newAPIFixture(t, verifier)

	tokenA, err := verifier.Generate("user-a", time.Hour)
	require.NoError(t, err)
	tokenB, err := verifier.Generate("user-b", time.Hour)
	require.NoError(t, err)

	resp := f.post(t, "/api/conversations", tokenA, CreateConversationRequest{Title: "private"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[ConversationResponse](t, resp)
	assert.Equal(t, "user-a", created.CreatedBy)

	resp = f.get(t, "/api/conversations/"+created.ID, tokenA)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/api/conversations/"+created.ID, tokenB)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode,
		"non-participants cannot tell hidden from missing")
}
