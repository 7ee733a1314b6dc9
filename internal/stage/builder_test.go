// ABOUTME: Tests for stage set construction from configuration
// ABOUTME: Verifies declared defaults and the timeout/required override precedence

package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-ml/aura-orchestrator/internal/config"
)

func testStagesConfig() config.StagesConfig {
	return config.StagesConfig{
		Transcription:       config.StageConfig{URL: "http://localhost:9001"},
		VocalEmotion:        config.StageConfig{URL: "http://localhost:9002"},
		VideoFeature:        config.StageConfig{URL: "http://localhost:9003"},
		ContextualInference: config.StageConfig{URL: "http://localhost:9004"},
		CauseExtraction:     config.StageConfig{URL: "http://localhost:9005"},
	}
}

func TestFromConfig_DeclaredDefaults(t *testing.T) {
	set := FromConfig(testStagesConfig(), config.PipelineConfig{}, testLogger())

	tests := []struct {
		stage    Stage
		name     string
		required bool
		timeout  time.Duration
	}{
		{set.Transcription, Transcription, true, 5 * time.Second},
		{set.VocalEmotion, VocalEmotion, true, 3 * time.Second},
		{set.VideoFeature, VideoFeature, false, 5 * time.Second},
		{set.ContextualInference, ContextualInference, true, 4 * time.Second},
		{set.CauseExtraction, CauseExtraction, false, 4 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.Name())
			assert.Equal(t, tt.required, tt.stage.Required())
			assert.Equal(t, tt.timeout, tt.stage.Timeout())
		})
	}
}

func TestFromConfig_TranscriptionGetsMediaAdapter(t *testing.T) {
	set := FromConfig(testStagesConfig(), config.PipelineConfig{}, testLogger())

	_, ok := set.Transcription.(*TranscriptionStage)
	assert.True(t, ok, "transcription must use the media-capable adapter")
}

func TestFromConfig_PipelineDefaultOverridesDeclared(t *testing.T) {
	pipe := config.PipelineConfig{DefaultStageTimeout: 2 * time.Second}

	set := FromConfig(testStagesConfig(), pipe, testLogger())

	for _, s := range set.All() {
		assert.Equal(t, 2*time.Second, s.Timeout(), s.Name())
	}
}

func TestFromConfig_StageOverridesWin(t *testing.T) {
	optional := false
	stages := testStagesConfig()
	stages.VocalEmotion.Timeout = 10 * time.Second
	stages.VocalEmotion.Required = &optional
	pipe := config.PipelineConfig{DefaultStageTimeout: 2 * time.Second}

	set := FromConfig(stages, pipe, testLogger())

	assert.Equal(t, 10*time.Second, set.VocalEmotion.Timeout())
	assert.False(t, set.VocalEmotion.Required())
	assert.Equal(t, 2*time.Second, set.Transcription.Timeout(), "other stages still use the pipeline default")
	assert.True(t, set.Transcription.Required())
}

func TestFromConfig_RequiredOverrideBothDirections(t *testing.T) {
	required := true
	optional := false
	stages := testStagesConfig()
	stages.VideoFeature.Required = &required
	stages.Transcription.Required = &optional

	set := FromConfig(stages, config.PipelineConfig{}, testLogger())

	assert.True(t, set.VideoFeature.Required())
	assert.False(t, set.Transcription.Required())
}

func TestSet_All(t *testing.T) {
	set := FromConfig(testStagesConfig(), config.PipelineConfig{}, testLogger())

	all := set.All()

	require.Len(t, all, 5)
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{
		Transcription,
		VocalEmotion,
		VideoFeature,
		ContextualInference,
		CauseExtraction,
	}, names)
}
