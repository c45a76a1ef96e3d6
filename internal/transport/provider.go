// ABOUTME: Provider capability interface and event types for chat transports
// ABOUTME: Each backend (evolution, wppconnect, matrix) is an interchangeable strategy

package transport

import (
	"context"
	"errors"
)

// Provider errors
var (
	// ErrPairingUnsupported is returned by providers that can only resume a
	// persisted session (e.g. token-based backends). The supervisor falls
	// through to the next provider in the chain.
	ErrPairingUnsupported = errors.New("provider does not support pairing")

	// ErrUnsupportedFormat is returned by a connection when a send format
	// (interactive list, buttons) is not available on this provider. The
	// outbound gateway falls back to the next plainer format.
	ErrUnsupportedFormat = errors.New("send format not supported")

	// ErrPairingTimeout is reported when no successful pairing happens
	// within the configured window.
	ErrPairingTimeout = errors.New("pairing timed out")

	// ErrNoProvider is returned when every provider in the fallback chain
	// failed to yield a connection or a pairing code.
	ErrNoProvider = errors.New("no transport provider available")

	// ErrNotConnected is returned for send operations on a slot without a
	// live connection.
	ErrNotConnected = errors.New("slot not connected")
)

// Provider is one interchangeable chat transport backend.
type Provider interface {
	Name() string

	// Resume attempts a silent session restore from a persisted blob.
	// The returned connection must already be live; implementations verify
	// it with a real identity probe, never by inferring from stored state.
	Resume(ctx context.Context, slotID string, session []byte) (Connection, error)

	// Pair requests a fresh pairing code. The returned connection becomes
	// live once a human acts on the code; progress is reported through the
	// connection's event stream.
	Pair(ctx context.Context, slotID string) (code string, conn Connection, err error)
}

// Connection is a live (or pairing-in-progress) transport session.
type Connection interface {
	// Identity returns the paired phone/user id via a lightweight probe.
	Identity(ctx context.Context) (string, error)

	SendText(ctx context.Context, to, text string) error
	SendVoice(ctx context.Context, to string, audio []byte, mimeType string) error
	SendInteractive(ctx context.Context, to string, prompt *Interactive) error
	SendButtons(ctx context.Context, to string, prompt *Interactive) error

	// Download fetches a voice-note payload. Some transports expose media
	// lazily, so callers retry once on transient failure.
	Download(ctx context.Context, ref *VoiceRef) ([]byte, error)

	// Ping sends a lightweight presence action to keep the session alive.
	Ping(ctx context.Context) error

	// Events delivers connection lifecycle and message events. The channel
	// is closed when the connection is finished.
	Events() <-chan Event

	Close() error
}

// EventType discriminates the tagged variants of Event
type EventType int

const (
	EventMessage EventType = iota
	EventState
	EventCredentials
	EventPairingCode
)

// CloseClass categorizes why a transport reported closure; it drives the
// supervisor's reconnect policy.
type CloseClass int

const (
	// CloseNone means the connection is not closed
	CloseNone CloseClass = iota
	// CloseAuthRevoked is terminal: the session was logged out remotely
	CloseAuthRevoked
	// CloseTransient covers network errors, stream errors, and timeouts
	CloseTransient
	// CloseConflict means another process holds the same identity
	CloseConflict
	// CloseOther is any unclassified close reason
	CloseOther
)

// Event is a tagged variant emitted by a Connection
type Event struct {
	Type EventType

	// EventMessage
	Message *MessageEvent

	// EventState: Open reports the connection went live; otherwise Close
	// carries the classified close reason
	Open  bool
	Close CloseClass
	Err   error

	// EventCredentials: the opaque session blob to persist write-through
	Credentials []byte

	// EventPairingCode: a (possibly regenerated) pairing code
	PairingCode string
}

// ChatType tags where an inbound message came from
const (
	ChatDirect    = "direct"
	ChatGroup     = "group"
	ChatBroadcast = "broadcast"
)

// MessageEvent is a raw inbound message from the transport
type MessageEvent struct {
	EventID  string // provider-assigned id, used for dedupe
	From     string // raw sender identity (jid, user id)
	FromSelf bool
	ChatType string
	Text     string
	Button   string // selected option id for control replies
	Voice    *VoiceRef
}

// VoiceRef points at a voice-note payload held by the transport
type VoiceRef struct {
	Provider string
	MediaID  string
	URL      string
	MimeType string
}

// Interactive is a choice prompt; providers render it as richly as they can
type Interactive struct {
	Body    string
	Options []Option
}

// Option is one selectable choice of an interactive prompt
type Option struct {
	ID    string
	Label string
}
