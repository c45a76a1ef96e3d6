// ABOUTME: Voice-note media pipeline: download, persist, transcribe
// ABOUTME: Audio is always kept on disk even when transcription fails

package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/talentvox/interviewd/internal/transport"
)

// NoTranscript is recorded when audio was received but could not be
// transcribed; downstream scoring treats it as an unusable answer.
const NoTranscript = "no transcript available"

// retryDelay before the single download retry. Transports expose media
// lazily, so the first attempt can race the upload.
const retryDelay = 2 * time.Second

// Downloader fetches a voice-note payload from a transport slot
type Downloader interface {
	Download(ctx context.Context, slotID string, ref *transport.VoiceRef) ([]byte, error)
}

// Transcriber converts audio to text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}

// Result is the outcome of processing one voice note
type Result struct {
	Path        string
	Transcript  string
	Transcribed bool
}

// Pipeline processes inbound voice notes end to end
type Pipeline struct {
	dir         string
	downloader  Downloader
	transcriber Transcriber
	language    string
	logger      *slog.Logger
}

// NewPipeline creates a media pipeline persisting audio under dir
func NewPipeline(dir string, downloader Downloader, transcriber Transcriber, language string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if language == "" {
		language = "pt"
	}
	return &Pipeline{
		dir:         dir,
		downloader:  downloader,
		transcriber: transcriber,
		language:    language,
		logger:      logger.With("component", "media"),
	}
}

// Process downloads a voice note, stores it, and transcribes it. The file
// is written before transcription is attempted; a transcription failure is
// reported through Result.Transcribed and the NoTranscript sentinel, never
// as an error.
func (p *Pipeline) Process(ctx context.Context, slotID string, ref *transport.VoiceRef, phone, interviewID string, questionNumber int) (*Result, error) {
	audio, err := p.download(ctx, slotID, ref)
	if err != nil {
		return nil, fmt.Errorf("downloading voice note: %w", err)
	}

	path, err := p.persist(audio, phone, interviewID, questionNumber)
	if err != nil {
		return nil, err
	}

	transcript, err := p.transcriber.Transcribe(ctx, audio, ref.MimeType, p.language)
	if err != nil {
		p.logger.Warn("transcription failed, recording sentinel",
			"interview", interviewID, "question", questionNumber, "error", err)
		return &Result{Path: path, Transcript: NoTranscript}, nil
	}

	return &Result{Path: path, Transcript: transcript, Transcribed: true}, nil
}

// download fetches the payload with a single delayed retry
func (p *Pipeline) download(ctx context.Context, slotID string, ref *transport.VoiceRef) ([]byte, error) {
	audio, err := p.downloader.Download(ctx, slotID, ref)
	if err == nil && len(audio) > 0 {
		return audio, nil
	}
	if err != nil {
		p.logger.Warn("voice download failed, retrying once", "media", ref.MediaID, "error", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryDelay):
	}

	audio, err = p.downloader.Download(ctx, slotID, ref)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty media payload for %s", ref.MediaID)
	}
	return audio, nil
}

func (p *Pipeline) persist(audio []byte, phone, interviewID string, questionNumber int) (string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}

	name := FileName(phone, interviewID, questionNumber)
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

// FileName builds the canonical audio file name for one answer
func FileName(phone, interviewID string, questionNumber int) string {
	return fmt.Sprintf("audio_%s_%s_R%d.ogg", digitsOnly(phone), interviewID, questionNumber)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
