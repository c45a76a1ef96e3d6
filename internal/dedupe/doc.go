// Package dedupe provides a time-bounded seen-key cache used to suppress
// duplicate inbound transport events and repeated answers for a question
// index that was already recorded.
package dedupe
