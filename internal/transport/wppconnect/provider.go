// ABOUTME: WPPConnect fallback transport provider
// ABOUTME: Polls the REST API for state changes and unread inbound messages

package wppconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/talentvox/interviewd/internal/transport"
)

const providerName = "wppconnect"

// pollInterval controls how often the connection polls for state changes
// and unread messages. WPPConnect has no push stream, so this is the
// effective inbound latency floor.
const pollInterval = 2 * time.Second

// Provider connects slots through a WPPConnect server
type Provider struct {
	client *Client
	logger *slog.Logger
}

type sessionBlob struct {
	Session string `json:"session"`
	Token   string `json:"token"`
}

// NewProvider creates a WPPConnect provider
func NewProvider(baseURL, secretKey string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client: NewClient(baseURL, secretKey),
		logger: logger.With("component", "wppconnect"),
	}
}

func (p *Provider) Name() string { return providerName }

// Resume restores a slot from its persisted session token
func (p *Provider) Resume(ctx context.Context, slotID string, session []byte) (transport.Connection, error) {
	var blob sessionBlob
	if err := json.Unmarshal(session, &blob); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if blob.Session == "" || blob.Token == "" {
		return nil, fmt.Errorf("session blob incomplete")
	}

	status, err := p.client.StatusSession(ctx, blob.Session, blob.Token)
	if err != nil {
		return nil, fmt.Errorf("probing session %s: %w", blob.Session, err)
	}
	if status != StatusConnected {
		return nil, fmt.Errorf("session %s not connected: status %q", blob.Session, status)
	}

	return newConn(p.client, blob.Session, blob.Token, p.logger), nil
}

// Pair provisions a session and returns its pairing code
func (p *Provider) Pair(ctx context.Context, slotID string) (string, transport.Connection, error) {
	session := "interview-" + slotID

	token, err := p.client.GenerateToken(ctx, session)
	if err != nil {
		return "", nil, fmt.Errorf("minting token for %s: %w", session, err)
	}

	_, urlCode, err := p.client.StartSession(ctx, session, token)
	if err != nil {
		return "", nil, fmt.Errorf("starting session %s: %w", session, err)
	}
	if urlCode == "" {
		return "", nil, fmt.Errorf("session %s returned no pairing material", session)
	}

	p.logger.Info("pairing started", "slot", slotID, "session", session)
	return urlCode, newConn(p.client, session, token, p.logger), nil
}

// conn drives one WPPConnect session. A poll loop substitutes for the
// event stream richer transports provide.
type conn struct {
	client  *Client
	session string
	token   string
	logger  *slog.Logger

	events chan transport.Event
	cancel context.CancelFunc
	once   sync.Once
}

func newConn(client *Client, session, token string, logger *slog.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		client:  client,
		session: session,
		token:   token,
		logger:  logger,
		events:  make(chan transport.Event, 32),
		cancel:  cancel,
	}
	go c.pollLoop(ctx)
	return c
}

func (c *conn) Identity(ctx context.Context) (string, error) {
	user, err := c.client.HostDevice(ctx, c.session, c.token)
	if err != nil {
		return "", err
	}
	if user == "" {
		return "", fmt.Errorf("session %s has no host device", c.session)
	}
	return user, nil
}

func (c *conn) SendText(ctx context.Context, to, text string) error {
	return c.client.SendMessage(ctx, c.session, c.token, to, text)
}

func (c *conn) SendVoice(ctx context.Context, to string, audio []byte, _ string) error {
	return c.client.SendVoice(ctx, c.session, c.token, to, audio)
}

// SendInteractive is unavailable on WPPConnect; the outbound gateway
// falls back to buttons and then plain text
func (c *conn) SendInteractive(ctx context.Context, to string, prompt *transport.Interactive) error {
	return transport.ErrUnsupportedFormat
}

func (c *conn) SendButtons(ctx context.Context, to string, prompt *transport.Interactive) error {
	return transport.ErrUnsupportedFormat
}

func (c *conn) Download(ctx context.Context, ref *transport.VoiceRef) ([]byte, error) {
	return c.client.DownloadMedia(ctx, c.session, c.token, ref.MediaID)
}

func (c *conn) Ping(ctx context.Context) error {
	return c.client.CheckConnection(ctx, c.session, c.token)
}

func (c *conn) Events() <-chan transport.Event {
	return c.events
}

func (c *conn) Close() error {
	c.once.Do(c.cancel)
	return nil
}

func (c *conn) pollLoop(ctx context.Context) {
	defer close(c.events)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := c.client.StatusSession(ctx, c.session, c.token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			class := transport.CloseTransient
			if errors.Is(err, ErrUnauthorized) {
				class = transport.CloseAuthRevoked
			}
			c.emit(ctx, transport.Event{
				Type:  transport.EventState,
				Close: class,
				Err:   fmt.Errorf("polling session status: %w", err),
			})
			return
		}

		if status != lastStatus {
			switch status {
			case StatusConnected:
				c.emit(ctx, transport.Event{Type: transport.EventState, Open: true})
				if blob, err := json.Marshal(sessionBlob{Session: c.session, Token: c.token}); err == nil {
					c.emit(ctx, transport.Event{Type: transport.EventCredentials, Credentials: blob})
				}
			case StatusClosed:
				c.emit(ctx, transport.Event{
					Type:  transport.EventState,
					Close: transport.CloseTransient,
					Err:   fmt.Errorf("session closed"),
				})
				return
			}
			lastStatus = status
		}

		if status != StatusConnected {
			continue
		}

		msgs, err := c.client.NewMessages(ctx, c.session, c.token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("draining unread messages failed", "session", c.session, "error", err)
			continue
		}
		for i := range msgs {
			c.emit(ctx, transport.Event{Type: transport.EventMessage, Message: mapMessage(&msgs[i])})
		}
	}
}

func (c *conn) emit(ctx context.Context, evt transport.Event) {
	select {
	case c.events <- evt:
	case <-ctx.Done():
	}
}

func mapMessage(m *Message) *transport.MessageEvent {
	evt := &transport.MessageEvent{
		EventID:  m.ID,
		From:     phoneDigits(m.From),
		FromSelf: m.FromMe,
		ChatType: transport.ChatDirect,
	}
	if m.IsGroup {
		evt.ChatType = transport.ChatGroup
	}
	if m.Type == "ptt" || m.Type == "audio" {
		evt.Voice = &transport.VoiceRef{
			Provider: providerName,
			MediaID:  m.ID,
			MimeType: m.MimeType,
		}
	} else {
		evt.Text = m.Body
	}
	return evt
}

func phoneDigits(from string) string {
	if i := strings.IndexByte(from, '@'); i >= 0 {
		return from[:i]
	}
	return from
}
