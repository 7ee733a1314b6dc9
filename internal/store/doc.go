// Package store provides persistent storage for the orchestrator using SQLite.
//
// # Architecture
//
// The Store interface covers the four record kinds the orchestrator
// persists:
//
//   - Conversation: logical channel with participants and a title
//   - Message: append-only log entries with per-conversation sequence numbers
//   - AnalysisPacket: retained pipeline output for audit/explanation reads
//   - MemorySummary: consolidated history ranges, one current per conversation
//
// SQLiteStore implements the full interface in a single struct. MockStore
// provides the same semantics in memory for tests.
//
// # Sequencing
//
// Sequence numbers are assigned by the conversation router, not the store.
// The store enforces uniqueness of (conversation, sequence) and returns
// ErrDuplicateSequence on collision, which the router treats as a bug in
// its single-writer discipline rather than a retryable condition.
//
// # Summaries
//
// ReplaceSummary retires the conversation's current summary and installs
// the new one in a single transaction. The new range must start exactly one
// past the retired range (or at sequence 1 for a first summary); anything
// else returns ErrSummaryOverlap. Retired rows are kept with superseded_at
// set so older ranges remain inspectable.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateConversation: Conversation already exists
//   - ErrDuplicateSequence: (conversation, sequence) pair already persisted
//   - ErrSummaryOverlap: Summary range not contiguous with the current one
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//
// Use NewSQLiteStore with a t.TempDir() path for integration tests with
// real SQLite.
package store
