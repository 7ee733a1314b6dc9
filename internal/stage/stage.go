// ABOUTME: Core types and interface for analysis stage adapters
// ABOUTME: Defines the Stage contract plus the canonical stage names and sentinel errors

package stage

import (
	"context"
	"errors"
	"time"
)

// Canonical stage names. These are the keys under which results appear
// in an analysis packet's stages map, so they are part of the wire format.
const (
	Transcription       = "transcription"
	VocalEmotion        = "vocal-emotion"
	VideoFeature        = "video-feature"
	ContextualInference = "contextual-inference"
	CauseExtraction     = "cause-extraction"
)

var (
	// ErrTimeout indicates a stage did not answer within its budget.
	ErrTimeout = errors.New("stage deadline exceeded")
	// ErrService indicates the stage service answered with a failure.
	ErrService = errors.New("stage service failure")
)

// Request carries the inputs for a single stage invocation.
type Request struct {
	MessageID string
	Kind      string // message kind: text, audio, or video
	Payload   string

	// Transcript is the transcription stage's output, supplied to
	// second-tier stages. Empty for first-tier invocations.
	Transcript string
}

// Result is a stage's successful output.
type Result struct {
	Text       string
	Confidence float64
}

// Stage is a uniform adapter over one external inference service.
// Invoke must honor ctx cancellation; the orchestrator applies the
// per-stage deadline before calling it.
type Stage interface {
	Name() string
	Required() bool
	Timeout() time.Duration
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// HealthChecker is implemented by stages that expose a liveness probe,
// used by the readiness endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}
