// Package pipeline runs the analysis stages for one message and joins
// their outcomes into an analysis packet.
//
// # Overview
//
// The Orchestrator is stateless between runs. Each Run builds an
// explicit Plan from the message's modality, dispatches the planned
// stages as goroutines, and joins on all of them before returning:
//
//	orch := pipeline.New(stages, registry, logger)
//	packet, err := orch.Run(ctx, msg)
//
// # Tiers
//
// The dependency graph has exactly two tiers:
//
//	Tier 1: transcription, vocal-emotion
//	        + video-feature (video messages only)
//	Tier 2: contextual-inference, cause-extraction
//
// Tier 1 dispatches immediately and runs fully in parallel. Tier 2
// needs the transcription text as prior context, so it dispatches the
// moment the transcription outcome is known, including the case where
// transcription timed out and the prior is empty. Tier 2 therefore
// overlaps any Tier-1 stages still pending, and a run's duration is
// bounded by
//
//	max(slowest Tier-1 budget, transcription budget + slowest Tier-2 budget)
//
// rather than the sum of all budgets.
//
// # Failure Policy
//
// A stage that errors or exceeds its budget is recorded as an explicit
// nil entry in the packet's stage map, and the run continues. The
// packet's Complete flag is false if any required scheduled stage is
// absent. A response is still generated downstream from whatever
// signals are present; one failing analyzer never stalls the
// conversation.
//
// The single run-level error is ErrSchedulingFault: the plan needed a
// stage the set does not hold, so nothing could be dispatched. The
// caller persists the inbound message anyway and notifies clients that
// analysis is unavailable.
//
// # Deadlines
//
// The orchestrator owns stage deadlines: each Invoke runs under
// context.WithTimeout(ctx, stage.Timeout()). The remote call may keep
// running after the deadline; the orchestrator treats it as absent for
// scheduling purposes and never waits for it.
//
// # Progress Frames
//
// When constructed with a Broadcaster, the orchestrator emits one
// {"type":"stage"} frame per resolved stage so connected clients can
// render analysis progress before the final packet arrives.
package pipeline
