// Package router normalizes inbound transport events and dispatches them
// to the conversation engine.
//
// It drops self-sent and non-direct messages, suppresses duplicate
// provider events through the seen-key cache, and matches senders to
// candidates by fuzzy digit comparison. Matched messages are processed
// strictly in arrival order per sender while different senders proceed
// concurrently; unmatched senders are logged and dropped.
package router
