// ABOUTME: Matrix transport provider for bridge-backed chat accounts
// ABOUTME: Resume-only; access tokens come from the persisted session blob

package matrixbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/talentvox/interviewd/internal/transport"
)

const providerName = "matrix"

// Provider connects slots to a Matrix homeserver, typically in front of a
// bridge that puppets phone-network contacts into DM rooms.
type Provider struct {
	homeserver string
	userID     string
	logger     *slog.Logger
}

// sessionBlob holds the credentials needed to resume a Matrix session
type sessionBlob struct {
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id,omitempty"`
}

// NewProvider creates a Matrix provider for one homeserver account
func NewProvider(homeserver, userID string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		homeserver: homeserver,
		userID:     userID,
		logger:     logger.With("component", "matrix"),
	}
}

func (p *Provider) Name() string { return providerName }

// Pair is unsupported: Matrix sessions are provisioned with an access
// token, not an interactive pairing code. The supervisor falls through to
// the next provider in the chain.
func (p *Provider) Pair(ctx context.Context, slotID string) (string, transport.Connection, error) {
	return "", nil, transport.ErrPairingUnsupported
}

// Resume restores a session from its persisted access token
func (p *Provider) Resume(ctx context.Context, slotID string, session []byte) (transport.Connection, error) {
	var blob sessionBlob
	if err := json.Unmarshal(session, &blob); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if blob.AccessToken == "" {
		return nil, fmt.Errorf("session has no access token")
	}

	client, err := mautrix.NewClient(p.homeserver, id.UserID(p.userID), blob.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if blob.DeviceID != "" {
		client.DeviceID = id.DeviceID(blob.DeviceID)
	}

	c := newConn(client, p.userID, p.logger)
	go c.sync()
	return c, nil
}

type conn struct {
	client *mautrix.Client
	userID string
	logger *slog.Logger

	events  chan transport.Event
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	emitMu  sync.Mutex
	stopped bool
}

func newConn(client *mautrix.Client, userID string, logger *slog.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		client: client,
		userID: userID,
		logger: logger,
		events: make(chan transport.Event, 32),
		ctx:    ctx,
		cancel: cancel,
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if ok {
		syncer.OnEventType(event.EventMessage, c.handleMessageEvent)
	}
	return c
}

func (c *conn) sync() {
	err := c.client.SyncWithContext(c.ctx)
	if c.ctx.Err() != nil {
		c.finish()
		return
	}

	class := transport.CloseTransient
	if err != nil && strings.Contains(err.Error(), "M_UNKNOWN_TOKEN") {
		class = transport.CloseAuthRevoked
	}
	c.emit(transport.Event{
		Type:  transport.EventState,
		Close: class,
		Err:   fmt.Errorf("matrix sync failed: %w", err),
	})
	c.finish()
}

func (c *conn) handleMessageEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	msg := &transport.MessageEvent{
		EventID:  evt.ID.String(),
		From:     senderDigits(evt.Sender),
		FromSelf: evt.Sender == id.UserID(c.userID),
		ChatType: transport.ChatDirect,
	}

	switch content.MsgType {
	case event.MsgText:
		msg.Text = content.Body
	case event.MsgAudio:
		msg.Voice = &transport.VoiceRef{
			Provider: providerName,
			MediaID:  evt.ID.String(),
			URL:      string(content.URL),
			MimeType: content.GetInfo().MimeType,
		}
	default:
		return
	}

	c.emit(transport.Event{Type: transport.EventMessage, Message: msg})
}

func (c *conn) Identity(ctx context.Context) (string, error) {
	resp, err := c.client.Whoami(ctx)
	if err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	return resp.UserID.String(), nil
}

func (c *conn) SendText(ctx context.Context, to, text string) error {
	_, err := c.client.SendText(ctx, id.RoomID(to), text)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", to, err)
	}
	return nil
}

func (c *conn) SendVoice(ctx context.Context, to string, audio []byte, mimeType string) error {
	upload, err := c.client.UploadBytes(ctx, audio, mimeType)
	if err != nil {
		return fmt.Errorf("uploading audio: %w", err)
	}

	content := event.MessageEventContent{
		MsgType: event.MsgAudio,
		Body:    "voice message",
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(audio),
		},
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(to), event.EventMessage, &content); err != nil {
		return fmt.Errorf("sending audio to %s: %w", to, err)
	}
	return nil
}

// Matrix has no native interactive or button messages; the outbound
// gateway degrades to plain text.
func (c *conn) SendInteractive(ctx context.Context, to string, prompt *transport.Interactive) error {
	return transport.ErrUnsupportedFormat
}

func (c *conn) SendButtons(ctx context.Context, to string, prompt *transport.Interactive) error {
	return transport.ErrUnsupportedFormat
}

func (c *conn) Download(ctx context.Context, ref *transport.VoiceRef) ([]byte, error) {
	uri, err := id.ContentURIString(ref.URL).Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing content uri: %w", err)
	}
	data, err := c.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	return data, nil
}

func (c *conn) Ping(ctx context.Context) error {
	_, err := c.client.Whoami(ctx)
	return err
}

func (c *conn) Events() <-chan transport.Event {
	return c.events
}

func (c *conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.client.StopSync()
	})
	return nil
}

func (c *conn) emit(evt transport.Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.stopped {
		return
	}
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

func (c *conn) finish() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.events)
	}
}

// senderDigits extracts a phone number from a bridge puppet user id like
// @whatsapp_5511999990000:example.org; unbridged senders pass through as
// their full Matrix id.
func senderDigits(sender id.UserID) string {
	localpart := sender.Localpart()
	if i := strings.LastIndexByte(localpart, '_'); i >= 0 {
		candidate := localpart[i+1:]
		if candidate != "" && isDigits(candidate) {
			return candidate
		}
	}
	return sender.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
