// ABOUTME: Runs the analysis stages for one message and joins the results
// ABOUTME: Tiered fan-out with per-stage deadlines; failures become absent results

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aura-ml/aura-orchestrator/internal/stage"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

// ErrSchedulingFault indicates the orchestrator could not dispatch the
// planned stage set at all. It is the only run-level error; individual
// stage failures are recorded in the packet instead.
var ErrSchedulingFault = errors.New("pipeline scheduling fault")

// Broadcaster delivers partial-progress frames to a conversation's live
// sessions. The session registry implements it.
type Broadcaster interface {
	Broadcast(conversationID string, payload []byte) int
}

// Orchestrator fans one message out to its planned stages and joins the
// outcomes into an analysis packet.
type Orchestrator struct {
	stages      *stage.Set
	broadcaster Broadcaster // optional; nil disables progress frames
	logger      *slog.Logger
}

// New creates an orchestrator over the stage set. Pass nil logger for default.
func New(stages *stage.Set, broadcaster Broadcaster, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stages:      stages,
		broadcaster: broadcaster,
		logger:      logger.With("component", "pipeline"),
	}
}

// stageOutcome is one resolved stage, absent or not.
type stageOutcome struct {
	name     string
	required bool
	result   *store.StageResult
}

// Run executes the plan for msg and returns the joined packet.
//
// Tier-1 stages dispatch immediately. Tier-2 dispatches as soon as the
// transcription outcome is known, in parallel with still-pending Tier-1
// work, so the run is bounded by the slower of the Tier-1 budgets and
// the transcription budget plus the Tier-2 budgets, never their sum.
// Stage errors and timeouts are recorded as absent results; the packet's
// completeness flag is false if any required scheduled stage is absent.
func (o *Orchestrator) Run(ctx context.Context, msg *store.Message) (*store.AnalysisPacket, error) {
	plan, err := PlanFor(o.stages, msg.Kind)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcomes := make(chan stageOutcome, plan.Scheduled())

	dispatched := 0
	dispatch := func(st stage.Stage, transcript string) {
		dispatched++
		go func() {
			outcomes <- stageOutcome{
				name:     st.Name(),
				required: st.Required(),
				result:   o.invokeStage(ctx, st, msg, transcript),
			}
		}()
	}

	for _, st := range plan.Tier1 {
		dispatch(st, "")
	}

	packet := &store.AnalysisPacket{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Stages:         make(map[string]*store.StageResult, plan.Scheduled()),
		Complete:       true,
		CreatedAt:      time.Now().UTC(),
	}

	tier2Dispatched := false
	for resolved := 0; resolved < dispatched; resolved++ {
		out := <-outcomes
		packet.Stages[out.name] = out.result
		if out.required && out.result == nil {
			packet.Complete = false
		}
		o.notifyProgress(msg, out)

		// Transcription gates Tier-2: its text (or its absence) is the
		// prior context for contextual inference and cause extraction.
		if out.name == stage.Transcription && !tier2Dispatched {
			tier2Dispatched = true
			transcript := ""
			if out.result != nil {
				transcript = out.result.Result
			}
			for _, st := range plan.Tier2 {
				dispatch(st, transcript)
			}
		}
	}

	o.logger.Info("pipeline run complete",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"stages", dispatched,
		"complete", packet.Complete,
		"elapsed", time.Since(start),
	)
	return packet, nil
}

// invokeStage runs one stage under its declared deadline. Any failure
// yields a nil result; the error never propagates past this point.
func (o *Orchestrator) invokeStage(ctx context.Context, st stage.Stage, msg *store.Message, transcript string) *store.StageResult {
	req := stage.Request{
		MessageID:  msg.ID,
		Kind:       msg.Kind,
		Payload:    msg.Content,
		Transcript: transcript,
	}

	stageCtx := ctx
	if st.Timeout() > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, st.Timeout())
		defer cancel()
	}

	start := time.Now()
	res, err := st.Invoke(stageCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Warn("stage absent",
			"stage", st.Name(),
			"message_id", msg.ID,
			"required", st.Required(),
			"elapsed", elapsed,
			"error", err,
		)
		return nil
	}

	return &store.StageResult{
		Result:     res.Text,
		Confidence: res.Confidence,
		ElapsedMS:  elapsed.Milliseconds(),
	}
}

// progressFrame is the wire shape of a partial-progress broadcast.
type progressFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

// notifyProgress broadcasts one resolved stage to the conversation's
// sessions so clients can render analysis as it lands.
func (o *Orchestrator) notifyProgress(msg *store.Message, out stageOutcome) {
	if o.broadcaster == nil {
		return
	}

	frame := progressFrame{
		Type:      "stage",
		MessageID: msg.ID,
		Stage:     out.name,
		Status:    "completed",
	}
	if out.result == nil {
		frame.Status = "absent"
	} else {
		frame.ElapsedMS = out.result.ElapsedMS
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	o.broadcaster.Broadcast(msg.ConversationID, payload)
}
