// Package memory maintains per-conversation long-term summaries.
//
// # Consolidation
//
// The router calls MaybeConsolidate after every appended message. When
// the number of messages past the active summary's range reaches the
// configured threshold, the service summarizes exactly that tail through
// the generative service and replaces the conversation's current summary.
//
// Ranges are contiguous and never overlap: each new summary starts at
// the sequence right after the previous summary's end and runs to the
// newest message at trigger time. The store enforces this on write, and
// the service keeps at most one consolidation in flight per conversation
// so concurrent triggers cannot race their way into overlapping ranges.
// A trigger arriving while one is in flight is skipped silently; the
// next appended message re-evaluates the threshold anyway.
//
// Summaries are never derived from each other. The summarizer only ever
// sees the raw messages of the range being consolidated; superseded
// summaries stay archived in the store.
package memory
