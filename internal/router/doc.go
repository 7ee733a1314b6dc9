// ABOUTME: Package documentation for the conversation router
// ABOUTME: Describes sequencing, the processing lifecycle, and failure policy

// Package router is the top-level entry point for inbound client
// events.
//
// # Sequencing
//
// Each conversation has a single-consumer queue: events for one
// conversation are processed strictly one at a time in arrival order,
// which makes the router the sole authority for sequence numbers and
// keeps them gapless. Distinct conversations proceed fully in
// parallel. Queues are created on demand and retired when empty, so
// idle conversations cost nothing.
//
// # Lifecycle of one event
//
// Persist the inbound message, run the analysis pipeline, persist the
// packet, generate the assistant response, persist it, trigger memory
// consolidation, then broadcast the analysis frame followed by the
// response frame.
//
// # Failure policy
//
// Only store failures abort a run, and an aborted event is reported
// back unacknowledged so the client may retry; retries re-run the
// pipeline from scratch, nothing is cached across a failed attempt.
// Stage failures are already absorbed into the packet by the pipeline.
// A pipeline dispatch fault downgrades to an "analysis unavailable"
// notice and an empty packet, and a response is still generated.
// Consolidation failures are logged and skipped.
//
// Callers that stop waiting (client disconnect) do not cancel
// processing; the run completes and persists so reconnecting clients
// see consistent history. Only its broadcasts become no-ops.
package router
