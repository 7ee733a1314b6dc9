// ABOUTME: Generic HTTP adapter for analysis stage services
// ABOUTME: Speaks the JSON invoke contract with retry, backoff, and health probing

package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// invokeRequest is the JSON body posted to a stage's /invoke endpoint.
type invokeRequest struct {
	Payload string        `json:"payload"`
	Prior   *priorContext `json:"prior,omitempty"`
}

// priorContext carries first-tier outputs to second-tier stages.
type priorContext struct {
	Transcript string `json:"transcript"`
}

// invokeResponse is the JSON body a stage answers with.
type invokeResponse struct {
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Config configures an HTTP stage adapter.
type Config struct {
	Name       string
	BaseURL    string
	Required   bool
	Timeout    time.Duration
	MaxRetries int
	Client     *http.Client // pass nil for default
	Logger     *slog.Logger // pass nil for default
}

// HTTPStage invokes one external inference service over HTTP.
// The zero value is not usable; construct with NewHTTPStage.
type HTTPStage struct {
	name       string
	required   bool
	timeout    time.Duration
	baseURL    string
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPStage creates an adapter for the service at cfg.BaseURL.
func NewHTTPStage(cfg Config) *HTTPStage {
	client := cfg.Client
	if client == nil {
		// No client-level timeout; the per-invocation context bounds each call.
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStage{
		name:       cfg.Name,
		required:   cfg.Required,
		timeout:    cfg.Timeout,
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		client:     client,
		logger:     logger.With("component", "stage", "stage", cfg.Name),
	}
}

// Name returns the stage's canonical name.
func (s *HTTPStage) Name() string { return s.name }

// Required reports whether a missing result marks the packet incomplete.
func (s *HTTPStage) Required() bool { return s.required }

// Timeout returns the per-invocation budget the orchestrator should apply.
func (s *HTTPStage) Timeout() time.Duration { return s.timeout }

// Invoke posts the request to the service's /invoke endpoint and decodes
// the result. A context deadline maps to ErrTimeout; any other failure
// maps to ErrService.
func (s *HTTPStage) Invoke(ctx context.Context, req Request) (*Result, error) {
	body := invokeRequest{Payload: req.Payload}
	if req.Transcript != "" {
		body.Prior = &priorContext{Transcript: req.Transcript}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal invoke request: %w", err)
	}

	resp, err := doWithRetry(ctx, s.client, s.maxRetries, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/invoke", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
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

// Healthy probes the service's /healthz endpoint.
func (s *HTTPStage) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unhealthy: status %d", s.name, resp.StatusCode)
	}
	return nil
}

// mapError folds transport failures into the package sentinels.
func (s *HTTPStage) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", s.name, ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return fmt.Errorf("%s: %w: %v", s.name, ErrService, err)
}

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request with exponential backoff retry
// for transient errors (network failures, 5xx, 429). maxRetries of zero
// means a single attempt.
func doWithRetry(ctx context.Context, client *http.Client, maxRetries int, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter, scaled for sub-second budgets.
			base := time.Duration(attempt*attempt) * 250 * time.Millisecond
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, lastErr
		}

		// Retry on 5xx server errors and 429 rate-limit.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				logger.Warn("server error, will retry",
					"status", resp.StatusCode, "body", string(body))
				continue
			}
			return nil, lastErr
		}

		return resp, nil
	}

	return nil, lastErr
}
