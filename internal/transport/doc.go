// Package transport manages chat transport connections for the interview
// engine.
//
// A Supervisor owns a bounded set of connection slots. Each slot is paired
// with one chat account through one of several interchangeable providers
// (Evolution API, WppConnect, Matrix). The supervisor handles the full
// connection lifecycle: pairing with a bounded timeout, silent resume from
// persisted session material, keep-alive probing, classified reconnect
// policy, and provider fallback when the preferred backend cannot serve.
//
// Inbound messages from every slot fan in to a single Events channel that
// the message router consumes. Outbound sends go through the supervisor so
// callers never hold a raw connection across a reconnect.
package transport
