// Package session tracks live client sockets grouped by conversation.
//
// # Registry
//
// The Registry is the only structure mutated by concurrent connection
// handlers outside the per-conversation sequencer. Each conversation's
// session set carries its own lock; the registry-level lock only guards
// the two index maps. Broadcasting therefore never serializes unrelated
// conversations, and delivery itself happens outside all locks.
//
// # Staleness
//
// A session whose Sender fails during broadcast is stale: the socket
// closed but the disconnect handler has not yet run. Stale sessions are
// logged and deregistered by the broadcast itself; the remaining
// sessions still receive the frame. Deregister is idempotent, so the
// eventual disconnect handler finding the session already gone is fine.
package session
