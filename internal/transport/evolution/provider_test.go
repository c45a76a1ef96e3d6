// ABOUTME: Evolution provider tests against an httptest instance server
// ABOUTME: Covers pairing, resume gating, event mapping, and close codes

package evolution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentvox/interviewd/internal/transport"
)

// fakeEvolution stands in for an Evolution API deployment: REST endpoints
// plus a websocket event stream that tests can push frames into.
type fakeEvolution struct {
	t      *testing.T
	apiKey string
	state  string
	owner  string

	mu      sync.Mutex
	created []string
	texts   []string
	ws      chan *websocket.Conn

	srv *httptest.Server
}

func newFakeEvolution(t *testing.T) *fakeEvolution {
	f := &fakeEvolution{
		t:      t,
		apiKey: "test-key",
		state:  "open",
		owner:  "5511999990000@s.whatsapp.net",
		ws:     make(chan *websocket.Conn, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/instance/create", f.auth(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InstanceName string `json:"instanceName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.created = append(f.created, body.InstanceName)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"instance": map[string]any{"instanceName": body.InstanceName}})
	}))
	mux.HandleFunc("/instance/connect/", f.auth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"pairingCode": "ABCD-1234", "code": "qr-data"})
	}))
	mux.HandleFunc("/instance/connectionState/", f.auth(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		state, owner := f.state, f.owner
		f.mu.Unlock()
		writeJSON(w, map[string]any{"instance": map[string]any{"state": state, "ownerJid": owner}})
	}))
	mux.HandleFunc("/message/sendText/", f.auth(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.texts = append(f.texts, body.Text)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"key": map[string]any{"id": "msg-1"}})
	}))
	mux.HandleFunc("/ws/events/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != f.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.ws <- conn
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEvolution) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != f.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeEvolution) setState(state string) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

// push writes an event frame to the most recently accepted stream
func (f *fakeEvolution) push(event string, data any) {
	select {
	case conn := <-f.ws:
		payload, err := json.Marshal(data)
		require.NoError(f.t, err)
		frame, err := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(payload)})
		require.NoError(f.t, err)
		require.NoError(f.t, conn.WriteMessage(websocket.TextMessage, frame))
	case <-time.After(time.Second):
		f.t.Fatal("no websocket connection accepted")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(t *testing.T, f *fakeEvolution) *Provider {
	p, err := NewProvider(f.srv.URL, f.apiKey, nil)
	require.NoError(t, err)
	return p
}

func TestPair_ReturnsPairingCode(t *testing.T) {
	f := newFakeEvolution(t)
	p := newTestProvider(t, f)

	code, conn, err := p.Pair(context.Background(), "slot-a")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "ABCD-1234", code)
	f.mu.Lock()
	created := append([]string(nil), f.created...)
	f.mu.Unlock()
	assert.Equal(t, []string{"interview-slot-a"}, created)
}

func TestResume_RequiresOpenState(t *testing.T) {
	f := newFakeEvolution(t)
	f.setState("close")
	p := newTestProvider(t, f)

	blob, err := json.Marshal(sessionBlob{Instance: "interview-slot-a"})
	require.NoError(t, err)

	_, err = p.Resume(context.Background(), "slot-a", blob)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not open")
}

func TestResume_OpenInstance(t *testing.T) {
	f := newFakeEvolution(t)
	p := newTestProvider(t, f)

	blob, err := json.Marshal(sessionBlob{Instance: "interview-slot-a"})
	require.NoError(t, err)

	conn, err := p.Resume(context.Background(), "slot-a", blob)
	require.NoError(t, err)
	defer conn.Close()

	identity, err := conn.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", identity)
}

func TestConn_MapsTextMessage(t *testing.T) {
	f := newFakeEvolution(t)
	p := newTestProvider(t, f)

	_, conn, err := p.Pair(context.Background(), "slot-a")
	require.NoError(t, err)
	defer conn.Close()

	f.push("messages.upsert", map[string]any{
		"key": map[string]any{
			"id":        "evt-1",
			"remoteJid": "5511888880000@s.whatsapp.net",
			"fromMe":    false,
		},
		"message": map[string]any{"conversation": "sim"},
	})

	evt := waitEvent(t, conn, transport.EventMessage)
	assert.Equal(t, "evt-1", evt.Message.EventID)
	assert.Equal(t, "5511888880000", evt.Message.From)
	assert.Equal(t, transport.ChatDirect, evt.Message.ChatType)
	assert.Equal(t, "sim", evt.Message.Text)
	assert.Nil(t, evt.Message.Voice)
}

func TestConn_MapsVoiceAndGroupChat(t *testing.T) {
	f := newFakeEvolution(t)
	p := newTestProvider(t, f)

	_, conn, err := p.Pair(context.Background(), "slot-a")
	require.NoError(t, err)
	defer conn.Close()

	f.push("messages.upsert", map[string]any{
		"key": map[string]any{
			"id":        "evt-2",
			"remoteJid": "12036304@g.us",
			"fromMe":    false,
		},
		"message": map[string]any{
			"audioMessage": map[string]any{"url": "https://mmg/abc", "mimetype": "audio/ogg; codecs=opus"},
		},
	})

	evt := waitEvent(t, conn, transport.EventMessage)
	assert.Equal(t, transport.ChatGroup, evt.Message.ChatType)
	require.NotNil(t, evt.Message.Voice)
	assert.Equal(t, "evt-2", evt.Message.Voice.MediaID)
	assert.True(t, strings.HasPrefix(evt.Message.Voice.MimeType, "audio/ogg"))
}

func TestConn_ClassifiesCloseCodes(t *testing.T) {
	cases := []struct {
		statusCode int
		want       transport.CloseClass
	}{
		{401, transport.CloseAuthRevoked},
		{440, transport.CloseConflict},
		{408, transport.CloseTransient},
		{428, transport.CloseTransient},
		{515, transport.CloseTransient},
		{403, transport.CloseOther},
		{500, transport.CloseOther},
	}

	for _, tc := range cases {
		f := newFakeEvolution(t)
		p := newTestProvider(t, f)

		_, conn, err := p.Pair(context.Background(), "slot-a")
		require.NoError(t, err)

		f.push("connection.update", map[string]any{"state": "close", "statusCode": tc.statusCode})

		evt := waitEvent(t, conn, transport.EventState)
		assert.Equal(t, tc.want, evt.Close, "statusCode %d", tc.statusCode)
		conn.Close()
	}
}

func TestConn_OpenEmitsStateAndCredentials(t *testing.T) {
	f := newFakeEvolution(t)
	p := newTestProvider(t, f)

	_, conn, err := p.Pair(context.Background(), "slot-a")
	require.NoError(t, err)
	defer conn.Close()

	f.push("connection.update", map[string]any{"state": "open"})

	evt := waitEvent(t, conn, transport.EventState)
	assert.True(t, evt.Open)

	creds := waitEvent(t, conn, transport.EventCredentials)
	var blob sessionBlob
	require.NoError(t, json.Unmarshal(creds.Credentials, &blob))
	assert.Equal(t, "interview-slot-a", blob.Instance)
}

func waitEvent(t *testing.T, conn transport.Connection, typ transport.EventType) transport.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-conn.Events():
			require.True(t, ok, "event stream closed while waiting")
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %d", typ)
		}
	}
}
