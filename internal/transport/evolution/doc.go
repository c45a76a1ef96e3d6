// Package evolution implements the Evolution API transport provider.
//
// Evolution hosts the actual chat session server-side; this package drives
// it over its REST surface and consumes lifecycle and message events from
// its websocket stream. Pairing codes, connection state transitions, and
// inbound messages all arrive as event frames that are mapped onto the
// transport package's event types. Disconnect status codes decide the
// reconnect policy: 401 means the session was logged out remotely and is
// unrecoverable, 440 means another process took the session over.
package evolution
