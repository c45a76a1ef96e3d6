// Package store provides persistent storage for interviewd using SQLite.
//
// Durability is the correctness mechanism for the whole engine: the
// conversation state machine reloads interview state from here on every
// inbound event and commits transitions before any outbound send, and the
// transport supervisor writes credential blobs through on every update.
// All writes are idempotent and keyed by stable identifiers (slot id,
// interview id + question index) so they are safe to repeat after a crash.
//
// Data models:
//
//   - TransportSession: one credential blob per connection slot
//   - Candidate, Job, Question: interview subject matter
//   - Interview: per-(candidate, job) session with a monotone question index
//   - Response: append-only answered questions, unique per (interview, index)
//   - MessageLogEntry: append-only audit trail, never used for control flow
//
// SQLiteStore implements the Store interface with modernc.org/sqlite
// (CGO-free) in WAL mode. The schema is created on open.
package store
