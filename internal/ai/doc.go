// Package ai evaluates interview answers with the Gemini API.
//
// Two tasks share one client: transcription of voice-note audio sent
// inline with a language-pinned prompt, and scoring of the transcript
// against the question's ideal answer. Scoring is deterministic
// (temperature 0, JSON output) and weighted 70% content, 25% coherence,
// 5% tone. When scoring cannot run at all, callers record DefaultScore so
// one pipeline failure never zeroes a candidate's result.
package ai
