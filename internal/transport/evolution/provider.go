// ABOUTME: Evolution API transport provider (pairing and session resume)
// ABOUTME: One Evolution instance per connection slot

package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/talentvox/interviewd/internal/transport"
)

const providerName = "evolution"

// Provider connects slots through an Evolution API deployment
type Provider struct {
	client *Client
	wsBase string
	logger *slog.Logger
}

// sessionBlob is what this provider persists per slot. Evolution keeps the
// actual credentials server-side; the instance name is enough to resume.
type sessionBlob struct {
	Instance string `json:"instance"`
}

// NewProvider creates an Evolution provider. baseURL is the API root, e.g.
// http://evolution:8080.
func NewProvider(baseURL, apiKey string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wsBase, err := websocketBase(baseURL)
	if err != nil {
		return nil, err
	}
	return &Provider{
		client: NewClient(baseURL, apiKey),
		wsBase: wsBase,
		logger: logger.With("component", "evolution"),
	}, nil
}

func (p *Provider) Name() string { return providerName }

// Resume restores a slot from its persisted instance reference. The
// instance must already report an open state; a stale or logged-out
// instance fails here and the supervisor falls back to pairing.
func (p *Provider) Resume(ctx context.Context, slotID string, session []byte) (transport.Connection, error) {
	var blob sessionBlob
	if err := json.Unmarshal(session, &blob); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if blob.Instance == "" {
		return nil, fmt.Errorf("session has no instance reference")
	}

	state, _, err := p.client.State(ctx, blob.Instance)
	if err != nil {
		return nil, fmt.Errorf("probing instance %s: %w", blob.Instance, err)
	}
	if state != "open" {
		return nil, fmt.Errorf("instance %s not open: state %q", blob.Instance, state)
	}

	ws, err := p.dialEvents(ctx, blob.Instance)
	if err != nil {
		return nil, err
	}
	return newConn(p.client, blob.Instance, ws, p.logger), nil
}

// Pair provisions an instance for the slot and returns its pairing code.
// Connection progress arrives on the event stream.
func (p *Provider) Pair(ctx context.Context, slotID string) (string, transport.Connection, error) {
	instance := instanceName(slotID)

	if err := p.client.CreateInstance(ctx, instance); err != nil {
		return "", nil, fmt.Errorf("creating instance %s: %w", instance, err)
	}

	code, qr, err := p.client.Connect(ctx, instance)
	if err != nil {
		return "", nil, fmt.Errorf("connecting instance %s: %w", instance, err)
	}
	if code == "" {
		code = qr
	}
	if code == "" {
		return "", nil, fmt.Errorf("instance %s returned no pairing material", instance)
	}

	ws, err := p.dialEvents(ctx, instance)
	if err != nil {
		return "", nil, err
	}

	p.logger.Info("pairing started", "slot", slotID, "instance", instance)
	return code, newConn(p.client, instance, ws, p.logger), nil
}

func (p *Provider) dialEvents(ctx context.Context, instance string) (*websocket.Conn, error) {
	wsURL := p.wsBase + "/" + url.PathEscape(instance)
	header := http.Header{"apikey": []string{p.client.apiKey}}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dialing event stream for %s: %w", instance, err)
	}
	return ws, nil
}

func websocketBase(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	return u.String(), nil
}

// instanceName derives a stable Evolution instance name from a slot id
func instanceName(slotID string) string {
	return "interview-" + slotID
}
