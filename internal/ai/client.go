// ABOUTME: Gemini client wrapper for transcription and answer scoring
// ABOUTME: Holds model selection and the generate call used by both tasks

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultTranscribeModel = "gemini-2.5-flash"
	defaultScoreModel      = "gemini-2.5-pro"
	defaultTimeout         = 60 * time.Second
)

// generateFunc matches genai's Models.GenerateContent; tests substitute it
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Client provides transcription and scoring on top of the Gemini API
type Client struct {
	generate        generateFunc
	transcribeModel string
	scoreModel      string
	timeout         time.Duration
}

// Options configures a Client; zero values fall back to defaults
type Options struct {
	TranscribeModel string
	ScoreModel      string
	Timeout         time.Duration
}

// NewClient creates a Client for the Gemini API backend
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	c := &Client{generate: client.Models.GenerateContent}
	c.applyOptions(opts)
	return c, nil
}

func (c *Client) applyOptions(opts Options) {
	c.transcribeModel = strings.TrimSpace(opts.TranscribeModel)
	if c.transcribeModel == "" {
		c.transcribeModel = defaultTranscribeModel
	}
	c.scoreModel = strings.TrimSpace(opts.ScoreModel)
	if c.scoreModel == "" {
		c.scoreModel = defaultScoreModel
	}
	c.timeout = opts.Timeout
	if c.timeout == 0 {
		c.timeout = defaultTimeout
	}
}

// callModel runs one generate call and flattens the candidate parts to text
func (c *Client) callModel(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.generate(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("model returned empty response")
	}
	return output, nil
}

// stripCodeFence removes a surrounding markdown code fence if present
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
