// ABOUTME: Explicit two-tier scheduling plan for one message
// ABOUTME: Maps message modality to the stages that run and their dependency tier

package pipeline

import (
	"fmt"

	"github.com/aura-ml/aura-orchestrator/internal/stage"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

// Plan is the dependency graph for one pipeline run. Tier1 stages run
// fully in parallel from dispatch. Tier2 stages wait for the
// transcription outcome (result or absence) and then run in parallel
// with any Tier1 stages still pending.
type Plan struct {
	Tier1 []stage.Stage
	Tier2 []stage.Stage
}

// Scheduled returns the total number of stages the plan will dispatch.
func (p *Plan) Scheduled() int {
	return len(p.Tier1) + len(p.Tier2)
}

// PlanFor builds the plan for a message kind.
//
// Every kind schedules transcription and vocal emotion in Tier1; video
// messages add video-feature extraction. Contextual inference and cause
// extraction always form Tier2, consuming the transcription text as
// prior context. A stage the plan needs but the set lacks is a
// scheduling fault: the set is built from validated configuration, so a
// hole in it means broken wiring, not a degraded service.
func PlanFor(set *stage.Set, kind string) (*Plan, error) {
	tier1 := []stage.Stage{set.Transcription, set.VocalEmotion}
	if kind == store.KindVideo {
		tier1 = append(tier1, set.VideoFeature)
	}
	tier2 := []stage.Stage{set.ContextualInference, set.CauseExtraction}

	for _, st := range tier1 {
		if st == nil {
			return nil, fmt.Errorf("%w: missing tier-1 stage for kind %q", ErrSchedulingFault, kind)
		}
	}
	for _, st := range tier2 {
		if st == nil {
			return nil, fmt.Errorf("%w: missing tier-2 stage", ErrSchedulingFault)
		}
	}

	return &Plan{Tier1: tier1, Tier2: tier2}, nil
}
