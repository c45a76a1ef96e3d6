// ABOUTME: HTTP client for the WPPConnect server REST API
// ABOUTME: Session tokens are minted per session from the shared secret key

package wppconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client errors
var (
	ErrUnauthorized = errors.New("wppconnect: unauthorized")
)

// Session states reported by status-session
const (
	StatusConnected = "CONNECTED"
	StatusQRCode    = "QRCODE"
	StatusClosed    = "CLOSED"
)

// Client is a thin wrapper around a WPPConnect server
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewClient creates a WPPConnect client. secretKey is the server's shared
// secret used to mint per-session bearer tokens.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// GenerateToken mints a bearer token for the session
func (c *Client) GenerateToken(ctx context.Context, session string) (string, error) {
	path := fmt.Sprintf("/api/%s/%s/generate-token", url.PathEscape(session), url.PathEscape(c.secretKey))
	var res struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, path, "", nil, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", fmt.Errorf("wppconnect: empty token for session %s", session)
	}
	return res.Token, nil
}

// StartSession begins (or resumes) a session and returns the pairing
// material when one is required
func (c *Client) StartSession(ctx context.Context, session, token string) (status, urlCode string, err error) {
	path := fmt.Sprintf("/api/%s/start-session", url.PathEscape(session))
	var res struct {
		Status  string `json:"status"`
		URLCode string `json:"urlcode"`
	}
	if err := c.do(ctx, http.MethodPost, path, token, map[string]any{"waitQrCode": false}, &res); err != nil {
		return "", "", err
	}
	return res.Status, res.URLCode, nil
}

// StatusSession reports the current session state
func (c *Client) StatusSession(ctx context.Context, session, token string) (string, error) {
	path := fmt.Sprintf("/api/%s/status-session", url.PathEscape(session))
	var res struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return "", err
	}
	return res.Status, nil
}

// HostDevice returns the connected phone number
func (c *Client) HostDevice(ctx context.Context, session, token string) (string, error) {
	path := fmt.Sprintf("/api/%s/host-device", url.PathEscape(session))
	var res struct {
		Response struct {
			ID struct {
				User string `json:"user"`
			} `json:"id"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return "", err
	}
	return res.Response.ID.User, nil
}

// CheckConnection is the lightweight liveness probe
func (c *Client) CheckConnection(ctx context.Context, session, token string) error {
	path := fmt.Sprintf("/api/%s/check-connection-session", url.PathEscape(session))
	var res struct {
		Status bool `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return err
	}
	if !res.Status {
		return fmt.Errorf("wppconnect: session %s not connected", session)
	}
	return nil
}

// SendMessage delivers a plain text message
func (c *Client) SendMessage(ctx context.Context, session, token, phone, message string) error {
	path := fmt.Sprintf("/api/%s/send-message", url.PathEscape(session))
	return c.do(ctx, http.MethodPost, path, token, map[string]any{
		"phone":   phone,
		"message": message,
	}, nil)
}

// SendVoice delivers a voice note from a base64 payload
func (c *Client) SendVoice(ctx context.Context, session, token, phone string, audio []byte) error {
	path := fmt.Sprintf("/api/%s/send-voice-base64", url.PathEscape(session))
	return c.do(ctx, http.MethodPost, path, token, map[string]any{
		"phone":       phone,
		"base64Ptt":   audio,
		"isGroup":     false,
		"quotedMsgId": "",
	}, nil)
}

// Message is one inbound message returned by NewMessages
type Message struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromMe   bool   `json:"fromMe"`
	IsGroup  bool   `json:"isGroupMsg"`
	Body     string `json:"body"`
	Type     string `json:"type"`
	MimeType string `json:"mimetype"`
}

// NewMessages drains unread inbound messages for the session
func (c *Client) NewMessages(ctx context.Context, session, token string) ([]Message, error) {
	path := fmt.Sprintf("/api/%s/unread-messages", url.PathEscape(session))
	var res struct {
		Response []Message `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return nil, err
	}
	return res.Response, nil
}

// DownloadMedia fetches a message's media payload decoded from base64
func (c *Client) DownloadMedia(ctx context.Context, session, token, messageID string) ([]byte, error) {
	path := fmt.Sprintf("/api/%s/get-media-by-message/%s", url.PathEscape(session), url.PathEscape(messageID))
	var res struct {
		Base64 []byte `json:"base64"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return nil, err
	}
	return res.Base64, nil
}

// Logout terminates the session remotely
func (c *Client) Logout(ctx context.Context, session, token string) error {
	path := fmt.Sprintf("/api/%s/logout-session", url.PathEscape(session))
	return c.do(ctx, http.MethodPost, path, token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
