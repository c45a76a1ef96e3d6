// ABOUTME: HTTP client for the Evolution API instance and messaging endpoints
// ABOUTME: Wraps create/connect/state/send/media calls with apikey auth

package evolution

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
	ErrUnauthorized     = errors.New("evolution: unauthorized")
	ErrInstanceNotFound = errors.New("evolution: instance not found")
)

// Client is a thin wrapper around the Evolution API REST surface
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an Evolution API client for the given base URL
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type instanceState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
		OwnerJID     string `json:"ownerJid"`
	} `json:"instance"`
}

type connectResult struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
}

type sendResult struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// CreateInstance registers an instance name. An already-existing instance
// is not an error; the caller proceeds to connect it.
func (c *Client) CreateInstance(ctx context.Context, name string) error {
	body := map[string]any{"instanceName": name, "integration": "WHATSAPP-BAILEYS"}
	err := c.do(ctx, http.MethodPost, "/instance/create", body, nil)
	if err != nil && !errors.Is(err, errConflict) {
		return err
	}
	return nil
}

// Connect starts (or restarts) an instance's session and returns the
// pairing material Evolution generated for it
func (c *Client) Connect(ctx context.Context, name string) (pairingCode, qr string, err error) {
	var res connectResult
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil, &res); err != nil {
		return "", "", err
	}
	return res.PairingCode, res.Code, nil
}

// State returns the instance connection state ("open", "connecting",
// "close") and the owner identity when connected
func (c *Client) State(ctx context.Context, name string) (state, owner string, err error) {
	var res instanceState
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(name), nil, &res); err != nil {
		return "", "", err
	}
	return res.Instance.State, res.Instance.OwnerJID, nil
}

// Logout terminates the instance session remotely
func (c *Client) Logout(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+url.PathEscape(name), nil, nil)
}

// SendText delivers a plain text message
func (c *Client) SendText(ctx context.Context, name, number, text string) error {
	body := map[string]any{"number": number, "text": text}
	return c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(name), body, &sendResult{})
}

// SendAudio delivers a voice-note audio payload (base64-encoded by the
// request marshaller)
func (c *Client) SendAudio(ctx context.Context, name, number string, audio []byte) error {
	body := map[string]any{"number": number, "audio": audio}
	return c.do(ctx, http.MethodPost, "/message/sendWhatsAppAudio/"+url.PathEscape(name), body, &sendResult{})
}

// SendList delivers an interactive single-select list message
func (c *Client) SendList(ctx context.Context, name, number, title string, rows []ListRow) error {
	body := map[string]any{
		"number":      number,
		"title":       title,
		"description": title,
		"buttonText":  "Responder",
		"sections": []map[string]any{
			{"title": title, "rows": rows},
		},
	}
	return c.do(ctx, http.MethodPost, "/message/sendList/"+url.PathEscape(name), body, &sendResult{})
}

// SendButtons delivers a reply-button message
func (c *Client) SendButtons(ctx context.Context, name, number, title string, buttons []Button) error {
	body := map[string]any{
		"number":  number,
		"title":   title,
		"buttons": buttons,
	}
	return c.do(ctx, http.MethodPost, "/message/sendButtons/"+url.PathEscape(name), body, &sendResult{})
}

// ListRow is one selectable row of an interactive list
type ListRow struct {
	Title string `json:"title"`
	RowID string `json:"rowId"`
}

// Button is one reply button
type Button struct {
	Type        string `json:"type"`
	DisplayText string `json:"displayText"`
	ID          string `json:"id"`
}

// DownloadMedia fetches a message's media payload decoded from base64
func (c *Client) DownloadMedia(ctx context.Context, name, messageID string) ([]byte, error) {
	body := map[string]any{
		"message":      map[string]any{"key": map[string]any{"id": messageID}},
		"convertToMp4": false,
	}
	var res struct {
		Base64 []byte `json:"base64"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat/getBase64FromMediaMessage/"+url.PathEscape(name), body, &res); err != nil {
		return nil, err
	}
	return res.Base64, nil
}

// SendPresence pushes a presence update; used as the keep-alive probe
func (c *Client) SendPresence(ctx context.Context, name string) error {
	body := map[string]any{"presence": "available"}
	return c.do(ctx, http.MethodPost, "/chat/sendPresence/"+url.PathEscape(name), body, nil)
}

var errConflict = errors.New("evolution: already exists")

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
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
	req.Header.Set("apikey", c.apiKey)
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
	case resp.StatusCode == http.StatusNotFound:
		return ErrInstanceNotFound
	case resp.StatusCode == http.StatusConflict:
		return errConflict
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
