// ABOUTME: Answer scoring against the question's ideal answer
// ABOUTME: Weighted composite of content, coherence, and tone dimensions

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"
)

// DefaultScore is recorded when scoring is unavailable, so a pipeline
// failure never zeroes out a candidate's answer.
const DefaultScore = 50

// Dimension weights for the overall score
const (
	weightContent   = 0.70
	weightCoherence = 0.25
	weightTone      = 0.05
)

// Score is the evaluation of one interview answer
type Score struct {
	Content   int    `json:"content_score"`
	Coherence int    `json:"coherence_score"`
	Tone      int    `json:"tone_score"`
	Overall   int    `json:"overall_score"`
	Feedback  string `json:"feedback"`
}

// DefaultScoreResult builds the neutral fallback score
func DefaultScoreResult(feedback string) *Score {
	return &Score{
		Content:   DefaultScore,
		Coherence: DefaultScore,
		Tone:      DefaultScore,
		Overall:   DefaultScore,
		Feedback:  feedback,
	}
}

const scorePrompt = `You are evaluating a job interview answer.

Question: %s

Ideal answer (reference): %s

Candidate's answer (transcribed from a voice message): %s

Score the answer on three dimensions, each 0-100:
- content_score: how well the answer covers the substance of the ideal answer
- coherence_score: how clear and well-structured the answer is
- tone_score: how professional and appropriate the tone is

Respond with a JSON object containing content_score, coherence_score,
tone_score, and a short feedback string in the answer's language.`

// ScoreAnswer evaluates a transcript against the question's ideal answer.
// The model runs at temperature 0 with JSON output; a malformed response
// still yields a usable Score via tolerant parsing.
func (c *Client) ScoreAnswer(ctx context.Context, question, idealAnswer, transcript string) (*Score, error) {
	if strings.TrimSpace(transcript) == "" {
		return DefaultScoreResult("no answer to evaluate"), nil
	}

	prompt := fmt.Sprintf(scorePrompt, question, idealAnswer, transcript)
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	text, err := c.callModel(ctx, c.scoreModel, genai.Text(prompt), config)
	if err != nil {
		return nil, fmt.Errorf("scoring answer: %w", err)
	}

	score, err := parseScore(text)
	if err != nil {
		return nil, fmt.Errorf("parsing score: %w", err)
	}
	return score, nil
}

// parseScore decodes the model's JSON payload and computes the weighted
// overall score
func parseScore(text string) (*Score, error) {
	var score Score
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &score); err != nil {
		return nil, err
	}

	score.Content = clampScore(score.Content)
	score.Coherence = clampScore(score.Coherence)
	score.Tone = clampScore(score.Tone)
	score.Overall = overall(score.Content, score.Coherence, score.Tone)
	return &score, nil
}

func overall(content, coherence, tone int) int {
	v := weightContent*float64(content) + weightCoherence*float64(coherence) + weightTone*float64(tone)
	return clampScore(int(math.Round(v)))
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
