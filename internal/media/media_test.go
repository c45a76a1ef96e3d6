// ABOUTME: Media pipeline tests with fake downloader and transcriber
// ABOUTME: Covers naming, retry, and the transcription failure sentinel

package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentvox/interviewd/internal/transport"
)

type fakeDownloader struct {
	payloads [][]byte
	errs     []error
	calls    int
}

func (f *fakeDownloader) Download(_ context.Context, _ string, _ *transport.VoiceRef) ([]byte, error) {
	i := f.calls
	f.calls++
	var payload []byte
	var err error
	if i < len(f.payloads) {
		payload = f.payloads[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return payload, err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string, string) (string, error) {
	return f.text, f.err
}

func TestProcess_PersistsAndTranscribes(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{payloads: [][]byte{[]byte("opus")}}
	tr := &fakeTranscriber{text: "minha resposta"}
	p := NewPipeline(dir, dl, tr, "pt", nil)

	res, err := p.Process(context.Background(), "slot-a",
		&transport.VoiceRef{MediaID: "m1", MimeType: "audio/ogg"},
		"+55 (11) 99999-0000", "iv-1", 2)
	require.NoError(t, err)

	assert.True(t, res.Transcribed)
	assert.Equal(t, "minha resposta", res.Transcript)
	assert.Equal(t, filepath.Join(dir, "audio_5511999990000_iv-1_R2.ogg"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("opus"), data)
}

func TestProcess_TranscriptionFailureRecordsSentinel(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{payloads: [][]byte{[]byte("opus")}}
	tr := &fakeTranscriber{err: errors.New("model unavailable")}
	p := NewPipeline(dir, dl, tr, "pt", nil)

	res, err := p.Process(context.Background(), "slot-a",
		&transport.VoiceRef{MediaID: "m1"}, "5511999990000", "iv-1", 1)
	require.NoError(t, err)

	assert.False(t, res.Transcribed)
	assert.Equal(t, NoTranscript, res.Transcript)
	// The audio must still be on disk
	_, statErr := os.Stat(res.Path)
	assert.NoError(t, statErr)
}

func TestProcess_RetriesDownloadOnce(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{
		payloads: [][]byte{nil, []byte("opus")},
		errs:     []error{errors.New("media not ready"), nil},
	}
	tr := &fakeTranscriber{text: "ok"}
	p := NewPipeline(dir, dl, tr, "pt", nil)

	res, err := p.Process(context.Background(), "slot-a",
		&transport.VoiceRef{MediaID: "m1"}, "5511999990000", "iv-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, dl.calls)
	assert.True(t, res.Transcribed)
}

func TestProcess_DownloadFailureIsAnError(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{errs: []error{errors.New("gone"), errors.New("still gone")}}
	p := NewPipeline(dir, dl, &fakeTranscriber{}, "pt", nil)

	_, err := p.Process(context.Background(), "slot-a",
		&transport.VoiceRef{MediaID: "m1"}, "5511999990000", "iv-1", 1)
	require.Error(t, err)
	assert.Equal(t, 2, dl.calls)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "audio_5511999990000_iv-9_R3.ogg",
		FileName("+55 11 99999-0000", "iv-9", 3))
}
