// ABOUTME: Text-to-speech client for voicing interview questions
// ABOUTME: Talks to an OpenAI-compatible /v1/audio/speech endpoint

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultModel  = "tts-1"
	defaultVoice  = "nova"
	defaultFormat = "opus"

	// maxInputLen mirrors the API's input limit
	maxInputLen = 4096
)

// ErrDisabled is returned when synthesis is requested but the synthesizer
// was built without credentials; callers degrade to text-only delivery.
var ErrDisabled = errors.New("speech synthesis disabled")

// Synthesizer renders question text as opus voice notes
type Synthesizer struct {
	baseURL string
	apiKey  string
	model   string
	voice   string
	http    *http.Client
}

// Options configures a Synthesizer; zero values fall back to defaults
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Timeout time.Duration
}

// New creates a Synthesizer. An empty API key yields a disabled instance
// whose Synthesize always returns ErrDisabled.
func New(opts Options) *Synthesizer {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	voice := opts.Voice
	if voice == "" {
		voice = defaultVoice
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
		voice:   voice,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether synthesis can run
func (s *Synthesizer) Enabled() bool {
	return s.apiKey != ""
}

// Synthesize renders text as opus audio bytes
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty input text")
	}
	if len(text) > maxInputLen {
		text = text[:maxInputLen]
	}

	payload, err := json.Marshal(map[string]string{
		"model":           s.model,
		"input":           text,
		"voice":           s.voice,
		"response_format": defaultFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech request: status %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("empty audio response")
	}
	return audio, nil
}
