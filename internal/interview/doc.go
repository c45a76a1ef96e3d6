// Package interview implements the per-candidate conversation state
// machine.
//
// An interview moves invited -> accepted -> in_progress(i) -> completed,
// with declined and cancelled as side exits. No interview state lives in memory between
// messages: each inbound event reloads the record, decides, commits, and
// only then sends. Idempotence comes from durability, not locks. The
// committed question index never decreases and the store's unique
// (interview, index) response constraint makes answer recording
// at-most-once, so replayed or duplicate events are no-ops after a crash.
//
// Off-topic classification is deliberately conservative: only exact
// greetings or a question turned back at the interviewer avoid advancing
// the index. Everything else counts as an answer.
package interview
