// ABOUTME: Voice-note transcription via Gemini audio understanding
// ABOUTME: Sends the audio blob inline with a language-pinned prompt

package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrEmptyAudio is returned for transcription requests without a payload
var ErrEmptyAudio = errors.New("empty audio payload")

const transcribePrompt = "Transcribe this audio message verbatim. " +
	"The speaker is answering a job interview question in %s. " +
	"Return only the transcribed text, with no commentary."

// languageNames maps config language codes to prompt wording
var languageNames = map[string]string{
	"pt": "Brazilian Portuguese",
	"en": "English",
	"es": "Spanish",
}

// Transcribe converts a voice-note payload to text
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	lang, ok := languageNames[language]
	if !ok {
		lang = languageNames["pt"]
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: fmt.Sprintf(transcribePrompt, lang)},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: audio}},
		},
	}}

	text, err := c.callModel(ctx, c.transcribeModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	return text, nil
}
