// ABOUTME: Live Evolution connection with a websocket event stream
// ABOUTME: Maps Evolution event frames onto transport events

package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/talentvox/interviewd/internal/transport"
)

// Baileys disconnect status codes carried in connection.update frames
const (
	statusLoggedOut        = 401
	statusTimedOut         = 408
	statusConnectionClosed = 428
	statusConflict         = 440
	statusStreamErrored    = 515
)

type conn struct {
	client   *Client
	instance string
	ws       *websocket.Conn
	logger   *slog.Logger

	events    chan transport.Event
	closeOnce sync.Once
}

// eventFrame is the envelope Evolution pushes over the websocket
type eventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectionUpdate struct {
	State      string `json:"state"`
	StatusCode int    `json:"statusCode"`
}

type qrcodeUpdate struct {
	PairingCode string `json:"pairingCode"`
}

type messageUpsert struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	Message struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		AudioMessage *struct {
			URL      string `json:"url"`
			MimeType string `json:"mimetype"`
		} `json:"audioMessage"`
		ListResponseMessage *struct {
			SingleSelectReply struct {
				SelectedRowID string `json:"selectedRowId"`
			} `json:"singleSelectReply"`
			Title string `json:"title"`
		} `json:"listResponseMessage"`
		ButtonsResponseMessage *struct {
			SelectedButtonID string `json:"selectedButtonId"`
			SelectedText     string `json:"selectedDisplayText"`
		} `json:"buttonsResponseMessage"`
	} `json:"message"`
}

func newConn(client *Client, instance string, ws *websocket.Conn, logger *slog.Logger) *conn {
	c := &conn{
		client:   client,
		instance: instance,
		ws:       ws,
		logger:   logger,
		events:   make(chan transport.Event, 32),
	}
	go c.readLoop()
	return c
}

func (c *conn) Identity(ctx context.Context) (string, error) {
	state, owner, err := c.client.State(ctx, c.instance)
	if err != nil {
		return "", err
	}
	if state != "open" {
		return "", fmt.Errorf("instance %s not open: state %q", c.instance, state)
	}
	return jidDigits(owner), nil
}

func (c *conn) SendText(ctx context.Context, to, text string) error {
	return c.client.SendText(ctx, c.instance, to, text)
}

func (c *conn) SendVoice(ctx context.Context, to string, audio []byte, _ string) error {
	return c.client.SendAudio(ctx, c.instance, to, audio)
}

func (c *conn) SendInteractive(ctx context.Context, to string, prompt *transport.Interactive) error {
	rows := make([]ListRow, 0, len(prompt.Options))
	for _, opt := range prompt.Options {
		rows = append(rows, ListRow{Title: opt.Label, RowID: opt.ID})
	}
	if err := c.client.SendList(ctx, c.instance, to, prompt.Body, rows); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnsupportedFormat, err)
	}
	return nil
}

func (c *conn) SendButtons(ctx context.Context, to string, prompt *transport.Interactive) error {
	buttons := make([]Button, 0, len(prompt.Options))
	for _, opt := range prompt.Options {
		buttons = append(buttons, Button{Type: "reply", DisplayText: opt.Label, ID: opt.ID})
	}
	if err := c.client.SendButtons(ctx, c.instance, to, prompt.Body, buttons); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnsupportedFormat, err)
	}
	return nil
}

func (c *conn) Download(ctx context.Context, ref *transport.VoiceRef) ([]byte, error) {
	return c.client.DownloadMedia(ctx, c.instance, ref.MediaID)
}

func (c *conn) Ping(ctx context.Context) error {
	return c.client.SendPresence(ctx, c.instance)
}

func (c *conn) Events() <-chan transport.Event {
	return c.events
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

func (c *conn) readLoop() {
	defer close(c.events)
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.events <- transport.Event{
					Type:  transport.EventState,
					Close: transport.CloseTransient,
					Err:   fmt.Errorf("event stream: %w", err),
				}
			}
			return
		}

		var frame eventFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Warn("dropping malformed event frame", "instance", c.instance, "error", err)
			continue
		}

		switch frame.Event {
		case "connection.update":
			var upd connectionUpdate
			if err := json.Unmarshal(frame.Data, &upd); err != nil {
				continue
			}
			c.handleConnectionUpdate(upd)
			if upd.State == "close" {
				return
			}

		case "qrcode.updated":
			var qr qrcodeUpdate
			if err := json.Unmarshal(frame.Data, &qr); err != nil {
				continue
			}
			if qr.PairingCode != "" {
				c.events <- transport.Event{Type: transport.EventPairingCode, PairingCode: qr.PairingCode}
			}

		case "messages.upsert":
			var msg messageUpsert
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				c.logger.Warn("dropping malformed message frame", "instance", c.instance, "error", err)
				continue
			}
			c.events <- transport.Event{Type: transport.EventMessage, Message: c.mapMessage(&msg)}

		case "creds.update":
			// Session material changed; hand the owning instance reference
			// back for write-through persistence.
			if blob, err := json.Marshal(sessionBlob{Instance: c.instance}); err == nil {
				c.events <- transport.Event{Type: transport.EventCredentials, Credentials: blob}
			}
		}
	}
}

func (c *conn) handleConnectionUpdate(upd connectionUpdate) {
	switch upd.State {
	case "open":
		c.events <- transport.Event{Type: transport.EventState, Open: true}
		if blob, err := json.Marshal(sessionBlob{Instance: c.instance}); err == nil {
			c.events <- transport.Event{Type: transport.EventCredentials, Credentials: blob}
		}
	case "close":
		c.events <- transport.Event{
			Type:  transport.EventState,
			Close: classifyClose(upd.StatusCode),
			Err:   fmt.Errorf("connection closed with status %d", upd.StatusCode),
		}
	}
}

func (c *conn) mapMessage(msg *messageUpsert) *transport.MessageEvent {
	evt := &transport.MessageEvent{
		EventID:  msg.Key.ID,
		From:     jidDigits(msg.Key.RemoteJID),
		FromSelf: msg.Key.FromMe,
		ChatType: chatType(msg.Key.RemoteJID),
	}

	switch {
	case msg.Message.Conversation != "":
		evt.Text = msg.Message.Conversation
	case msg.Message.ExtendedTextMessage.Text != "":
		evt.Text = msg.Message.ExtendedTextMessage.Text
	case msg.Message.ListResponseMessage != nil:
		evt.Button = msg.Message.ListResponseMessage.SingleSelectReply.SelectedRowID
		evt.Text = msg.Message.ListResponseMessage.Title
	case msg.Message.ButtonsResponseMessage != nil:
		evt.Button = msg.Message.ButtonsResponseMessage.SelectedButtonID
		evt.Text = msg.Message.ButtonsResponseMessage.SelectedText
	}

	if msg.Message.AudioMessage != nil {
		evt.Voice = &transport.VoiceRef{
			Provider: providerName,
			MediaID:  msg.Key.ID,
			URL:      msg.Message.AudioMessage.URL,
			MimeType: msg.Message.AudioMessage.MimeType,
		}
	}
	return evt
}

// classifyClose maps Baileys disconnect codes to reconnect policy classes.
// Only known network-class codes reconnect on the short path; anything
// unrecognized (banned account, bad session) takes the bounded slow path.
func classifyClose(statusCode int) transport.CloseClass {
	switch statusCode {
	case statusLoggedOut:
		return transport.CloseAuthRevoked
	case statusConflict:
		return transport.CloseConflict
	case statusTimedOut, statusConnectionClosed, statusStreamErrored:
		return transport.CloseTransient
	default:
		return transport.CloseOther
	}
}

func jidDigits(jid string) string {
	if i := strings.IndexAny(jid, "@:"); i >= 0 {
		return jid[:i]
	}
	return jid
}

func chatType(jid string) string {
	switch {
	case strings.HasSuffix(jid, "@g.us"):
		return transport.ChatGroup
	case strings.Contains(jid, "broadcast"):
		return transport.ChatBroadcast
	default:
		return transport.ChatDirect
	}
}
