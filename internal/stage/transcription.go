// ABOUTME: Transcription stage adapter with inline media upload support
// ABOUTME: Posts multipart form data for inline audio, falls back to the JSON contract

package stage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/aura-ml/aura-orchestrator/internal/store"
)

// TranscriptionStage adapts the speech-to-text service. Text payloads use
// the plain JSON contract. Audio and video payloads carrying inline media
// (base64) are uploaded as a multipart file part instead; payloads that
// only reference media stored elsewhere go through JSON like any other
// stage, and the service resolves the reference itself.
type TranscriptionStage struct {
	*HTTPStage
}

// NewTranscriptionStage creates the transcription adapter.
func NewTranscriptionStage(cfg Config) *TranscriptionStage {
	return &TranscriptionStage{HTTPStage: NewHTTPStage(cfg)}
}

// Invoke transcribes the message payload.
func (s *TranscriptionStage) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Kind == store.KindText {
		return s.HTTPStage.Invoke(ctx, req)
	}
	media, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		// Not inline media; the payload is a reference the service resolves.
		return s.HTTPStage.Invoke(ctx, req)
	}
	return s.invokeMultipart(ctx, req.Kind, media)
}

// invokeMultipart uploads inline media as a form file named "file".
// The body is built once and replayed on each retry attempt.
func (s *TranscriptionStage) invokeMultipart(ctx context.Context, kind string, media []byte) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", kind+".bin")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(media); err != nil {
		return nil, fmt.Errorf("write media: %w", err)
	}
	writer.WriteField("kind", kind)
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	s.logger.Debug("uploading inline media", "kind", kind, "bytes", len(media))

	resp, err := doWithRetry(ctx, s.client, s.maxRetries, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/invoke", bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", writer.FormDataContentType())
		return httpReq, nil
	}, s.logger)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: %w: status %d: %s", s.name, ErrService, resp.StatusCode, string(respBody))
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w: decode response: %v", s.name, ErrService, err)
	}
	return &Result{Text: out.Result, Confidence: out.Confidence}, nil
}

var _ Stage = (*TranscriptionStage)(nil)
var _ Stage = (*HTTPStage)(nil)
