// ABOUTME: Tests for the transcription stage adapter
// ABOUTME: Covers the multipart upload path for inline media and the JSON fallback

package stage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-ml/aura-orchestrator/internal/store"
)

func newTestTranscription(t *testing.T, handler http.HandlerFunc, maxRetries int) *TranscriptionStage {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewTranscriptionStage(Config{
		Name:       Transcription,
		BaseURL:    srv.URL,
		Required:   true,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		Logger:     testLogger(),
	})
}

func TestTranscriptionStage_TextUsesJSON(t *testing.T) {
	var got invokeRequest
	s := newTestTranscription(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(invokeResponse{Result: "hello there"})
	}, 0)

	res, err := s.Invoke(context.Background(), Request{
		Kind:    store.KindText,
		Payload: "hello there",
	})

	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, "hello there", got.Payload)
}

func TestTranscriptionStage_InlineAudioUsesMultipart(t *testing.T) {
	media := []byte("RIFF....fake-wav-bytes")
	var gotFile []byte
	var gotKind string

	s := newTestTranscription(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFile, err = io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "audio.bin", header.Filename)

		gotKind = r.FormValue("kind")
		json.NewEncoder(w).Encode(invokeResponse{Result: "I feel stuck", Confidence: 0.81})
	}, 0)

	res, err := s.Invoke(context.Background(), Request{
		Kind:    store.KindAudio,
		Payload: base64.StdEncoding.EncodeToString(media),
	})

	require.NoError(t, err)
	assert.Equal(t, "I feel stuck", res.Text)
	assert.Equal(t, media, gotFile)
	assert.Equal(t, store.KindAudio, gotKind)
}

func TestTranscriptionStage_ReferencePayloadUsesJSON(t *testing.T) {
	var got invokeRequest
	s := newTestTranscription(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(invokeResponse{Result: "transcribed from reference"})
	}, 0)

	res, err := s.Invoke(context.Background(), Request{
		Kind:    store.KindVideo,
		Payload: "media://session-4/clip-7.webm",
	})

	require.NoError(t, err)
	assert.Equal(t, "transcribed from reference", res.Text)
	assert.Equal(t, "media://session-4/clip-7.webm", got.Payload)
}

func TestTranscriptionStage_MultipartReplayedOnRetry(t *testing.T) {
	media := []byte("opus-frame-data")
	var calls atomic.Int32
	var secondAttempt []byte

	s := newTestTranscription(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		secondAttempt, err = io.ReadAll(file)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(invokeResponse{Result: "ok"})
	}, 2)

	res, err := s.Invoke(context.Background(), Request{
		Kind:    store.KindAudio,
		Payload: base64.StdEncoding.EncodeToString(media),
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, media, secondAttempt, "retry must resend the full media body")
}
