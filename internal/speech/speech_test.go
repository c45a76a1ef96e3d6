// ABOUTME: Synthesizer tests against an httptest speech endpoint
// ABOUTME: Covers request shape, disabled mode, and error statuses

package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize_RequestShape(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte("opus-audio-bytes"))
	}))
	defer srv.Close()

	s := New(Options{BaseURL: srv.URL, APIKey: "sk-test"})
	audio, err := s.Synthesize(context.Background(), "Qual é a sua experiência com vendas?")
	require.NoError(t, err)

	assert.Equal(t, []byte("opus-audio-bytes"), audio)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "tts-1", gotBody["model"])
	assert.Equal(t, "nova", gotBody["voice"])
	assert.Equal(t, "opus", gotBody["response_format"])
	assert.Equal(t, "Qual é a sua experiência com vendas?", gotBody["input"])
}

func TestSynthesize_DisabledWithoutKey(t *testing.T) {
	s := New(Options{})
	assert.False(t, s.Enabled())

	_, err := s.Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSynthesize_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(Options{BaseURL: srv.URL, APIKey: "sk-test"})
	_, err := s.Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSynthesize_EmptyInput(t *testing.T) {
	s := New(Options{BaseURL: "http://localhost", APIKey: "sk-test"})
	_, err := s.Synthesize(context.Background(), "   ")
	assert.Error(t, err)
}
