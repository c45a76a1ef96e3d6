// ABOUTME: Outbound messaging gateway with graceful format degradation
// ABOUTME: Rich prompts fall back interactive -> buttons -> numbered text

package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talentvox/interviewd/internal/transport"
)

// Sender is the slice of the transport supervisor the gateway needs
type Sender interface {
	SendText(ctx context.Context, slotID, to, text string) error
	SendVoice(ctx context.Context, slotID, to string, audio []byte, mimeType string) error
	SendInteractive(ctx context.Context, slotID, to string, prompt *transport.Interactive) error
	SendButtons(ctx context.Context, slotID, to string, prompt *transport.Interactive) error
}

// Speaker renders text as voice audio
type Speaker interface {
	Enabled() bool
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Gateway sends candidate-facing messages through a transport slot
type Gateway struct {
	sender  Sender
	speaker Speaker
	logger  *slog.Logger
}

// NewGateway creates an outbound gateway. speaker may be nil when voice
// delivery is not configured.
func NewGateway(sender Sender, speaker Speaker, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sender:  sender,
		speaker: speaker,
		logger:  logger.With("component", "outbound"),
	}
}

// Text sends a plain text message
func (g *Gateway) Text(ctx context.Context, slotID, to, text string) error {
	return g.sender.SendText(ctx, slotID, to, text)
}

// Question delivers a question as a voice note followed by its text. Voice
// synthesis or delivery failure degrades to text-only; the text itself
// failing is the only hard error.
func (g *Gateway) Question(ctx context.Context, slotID, to, text string) error {
	if g.speaker != nil && g.speaker.Enabled() {
		audio, err := g.speaker.Synthesize(ctx, text)
		if err != nil {
			g.logger.Warn("voice synthesis failed, sending text only", "to", to, "error", err)
		} else if err := g.sender.SendVoice(ctx, slotID, to, audio, "audio/ogg; codecs=opus"); err != nil {
			g.logger.Warn("voice delivery failed, sending text only", "to", to, "error", err)
		}
	}
	return g.sender.SendText(ctx, slotID, to, text)
}

// Choice delivers a selection prompt as richly as the transport allows:
// interactive list first, reply buttons next, numbered plain text last.
func (g *Gateway) Choice(ctx context.Context, slotID, to string, prompt *transport.Interactive) error {
	err := g.sender.SendInteractive(ctx, slotID, to, prompt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, transport.ErrUnsupportedFormat) && !errors.Is(err, transport.ErrNotConnected) {
		g.logger.Debug("interactive send failed, trying buttons", "to", to, "error", err)
	}
	if errors.Is(err, transport.ErrNotConnected) {
		return err
	}

	err = g.sender.SendButtons(ctx, slotID, to, prompt)
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrNotConnected) {
		return err
	}
	g.logger.Debug("button send failed, degrading to text", "to", to, "error", err)

	return g.sender.SendText(ctx, slotID, to, renderChoiceText(prompt))
}

// renderChoiceText flattens a choice prompt into numbered text so the
// reply digits still match the option ids
func renderChoiceText(prompt *transport.Interactive) string {
	var b strings.Builder
	b.WriteString(prompt.Body)
	for _, opt := range prompt.Options {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s - %s", opt.ID, opt.Label)
	}
	return b.String()
}
