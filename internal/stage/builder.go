// ABOUTME: Builds the five stage adapters from configuration
// ABOUTME: Applies declared defaults with per-stage and pipeline-wide overrides

package stage

import (
	"log/slog"
	"time"

	"github.com/aura-ml/aura-orchestrator/internal/config"
)

// Set holds the five configured stage adapters. The pipeline composes
// its tiers from these; tests may substitute individual fields.
type Set struct {
	Transcription       Stage
	VocalEmotion        Stage
	VideoFeature        Stage
	ContextualInference Stage
	CauseExtraction     Stage
}

// All returns every stage in the set, in canonical order.
func (s *Set) All() []Stage {
	return []Stage{
		s.Transcription,
		s.VocalEmotion,
		s.VideoFeature,
		s.ContextualInference,
		s.CauseExtraction,
	}
}

// declaredDefault is a stage's built-in scheduling policy, used when the
// configuration does not override it.
type declaredDefault struct {
	required bool
	timeout  time.Duration
}

var declared = map[string]declaredDefault{
	Transcription:       {required: true, timeout: 5 * time.Second},
	VocalEmotion:        {required: true, timeout: 3 * time.Second},
	VideoFeature:        {required: false, timeout: 5 * time.Second},
	ContextualInference: {required: true, timeout: 4 * time.Second},
	CauseExtraction:     {required: false, timeout: 4 * time.Second},
}

// FromConfig builds the stage set. Timeout precedence: per-stage config,
// then pipeline default_stage_timeout, then the stage's declared default.
// Required precedence: per-stage config, then the declared default.
func FromConfig(stages config.StagesConfig, pipe config.PipelineConfig, logger *slog.Logger) *Set {
	mk := func(name string, sc config.StageConfig) Config {
		cfg := resolve(name, sc, pipe)
		cfg.Logger = logger
		return cfg
	}
	return &Set{
		Transcription:       NewTranscriptionStage(mk(Transcription, stages.Transcription)),
		VocalEmotion:        NewHTTPStage(mk(VocalEmotion, stages.VocalEmotion)),
		VideoFeature:        NewHTTPStage(mk(VideoFeature, stages.VideoFeature)),
		ContextualInference: NewHTTPStage(mk(ContextualInference, stages.ContextualInference)),
		CauseExtraction:     NewHTTPStage(mk(CauseExtraction, stages.CauseExtraction)),
	}
}

func resolve(name string, sc config.StageConfig, pipe config.PipelineConfig) Config {
	d := declared[name]

	required := d.required
	if sc.Required != nil {
		required = *sc.Required
	}

	timeout := d.timeout
	if pipe.DefaultStageTimeout > 0 {
		timeout = pipe.DefaultStageTimeout
	}
	if sc.Timeout > 0 {
		timeout = sc.Timeout
	}

	return Config{
		Name:       name,
		BaseURL:    sc.URL,
		Required:   required,
		Timeout:    timeout,
		MaxRetries: sc.MaxRetries,
	}
}
