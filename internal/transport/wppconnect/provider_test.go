// ABOUTME: WPPConnect provider tests against an httptest server
// ABOUTME: Covers pairing, resume gating, message polling, and auth errors

package wppconnect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentvox/interviewd/internal/transport"
)

type fakeWpp struct {
	mu     sync.Mutex
	status string
	unread []Message
	texts  []string

	srv *httptest.Server
}

func newFakeWpp(t *testing.T) *fakeWpp {
	f := &fakeWpp{status: StatusConnected}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/interview-slot-a/secret-key/generate-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"token": "tok-1"})
	})
	mux.HandleFunc("/api/interview-slot-a/start-session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": StatusQRCode, "urlcode": "2@abcdef"})
	})
	mux.HandleFunc("/api/interview-slot-a/status-session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		status := f.status
		f.mu.Unlock()
		writeJSON(w, map[string]any{"status": status})
	})
	mux.HandleFunc("/api/interview-slot-a/host-device", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"response": map[string]any{"id": map[string]any{"user": "5511999990000"}}})
	})
	mux.HandleFunc("/api/interview-slot-a/unread-messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		msgs := f.unread
		f.unread = nil
		f.mu.Unlock()
		writeJSON(w, map[string]any{"response": msgs})
	})
	mux.HandleFunc("/api/interview-slot-a/send-message", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.texts = append(f.texts, body.Message)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"status": "success"})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestPair_ReturnsURLCode(t *testing.T) {
	f := newFakeWpp(t)
	p := NewProvider(f.srv.URL, "secret-key", nil)

	code, conn, err := p.Pair(context.Background(), "slot-a")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "2@abcdef", code)
}

func TestResume_RequiresConnectedStatus(t *testing.T) {
	f := newFakeWpp(t)
	f.status = StatusClosed
	p := NewProvider(f.srv.URL, "secret-key", nil)

	blob, err := json.Marshal(sessionBlob{Session: "interview-slot-a", Token: "tok-1"})
	require.NoError(t, err)

	_, err = p.Resume(context.Background(), "slot-a", blob)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestResume_ConnectedSession(t *testing.T) {
	f := newFakeWpp(t)
	p := NewProvider(f.srv.URL, "secret-key", nil)

	blob, err := json.Marshal(sessionBlob{Session: "interview-slot-a", Token: "tok-1"})
	require.NoError(t, err)

	conn, err := p.Resume(context.Background(), "slot-a", blob)
	require.NoError(t, err)
	defer conn.Close()

	identity, err := conn.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", identity)
}

func TestPoll_DrainsUnreadMessages(t *testing.T) {
	f := newFakeWpp(t)
	f.mu.Lock()
	f.unread = []Message{
		{ID: "m1", From: "5511888880000@c.us", Body: "sim", Type: "chat"},
		{ID: "m2", From: "5511888880000@c.us", Type: "ptt", MimeType: "audio/ogg; codecs=opus"},
	}
	f.mu.Unlock()

	p := NewProvider(f.srv.URL, "secret-key", nil)
	blob, err := json.Marshal(sessionBlob{Session: "interview-slot-a", Token: "tok-1"})
	require.NoError(t, err)

	conn, err := p.Resume(context.Background(), "slot-a", blob)
	require.NoError(t, err)
	defer conn.Close()

	first := waitMessage(t, conn)
	assert.Equal(t, "m1", first.EventID)
	assert.Equal(t, "5511888880000", first.From)
	assert.Equal(t, "sim", first.Text)
	assert.Nil(t, first.Voice)

	second := waitMessage(t, conn)
	assert.Equal(t, "m2", second.EventID)
	require.NotNil(t, second.Voice)
	assert.Equal(t, "m2", second.Voice.MediaID)
}

func TestPoll_UnauthorizedClassifiedAsAuthRevoked(t *testing.T) {
	f := newFakeWpp(t)
	p := NewProvider(f.srv.URL, "secret-key", nil)

	blob, err := json.Marshal(sessionBlob{Session: "interview-slot-a", Token: "wrong-token"})
	require.NoError(t, err)

	// Resume's own probe already fails on the bad token
	_, err = p.Resume(context.Background(), "slot-a", blob)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func waitMessage(t *testing.T, conn transport.Connection) *transport.MessageEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-conn.Events():
			require.True(t, ok, "event stream closed while waiting")
			if evt.Type == transport.EventMessage {
				return evt.Message
			}
		case <-deadline:
			t.Fatal("timed out waiting for inbound message")
		}
	}
}
