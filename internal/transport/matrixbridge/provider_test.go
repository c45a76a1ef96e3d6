// ABOUTME: Matrix provider tests for pairing refusal and sender mapping
// ABOUTME: Sync behavior is exercised indirectly via the supervisor fakes

package matrixbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/id"

	"github.com/talentvox/interviewd/internal/transport"
)

func TestPair_Unsupported(t *testing.T) {
	p := NewProvider("https://matrix.example.org", "@interviews:example.org", nil)

	_, _, err := p.Pair(context.Background(), "slot-a")
	assert.ErrorIs(t, err, transport.ErrPairingUnsupported)
}

func TestResume_RejectsBlobWithoutToken(t *testing.T) {
	p := NewProvider("https://matrix.example.org", "@interviews:example.org", nil)

	_, err := p.Resume(context.Background(), "slot-a", []byte(`{}`))
	assert.Error(t, err)

	_, err = p.Resume(context.Background(), "slot-a", []byte(`not-json`))
	assert.Error(t, err)
}

func TestSenderDigits(t *testing.T) {
	cases := []struct {
		sender string
		want   string
	}{
		{"@whatsapp_5511999990000:example.org", "5511999990000"},
		{"@signal_5511888880000:example.org", "5511888880000"},
		{"@alice:example.org", "@alice:example.org"},
		{"@whatsapp_notdigits:example.org", "@whatsapp_notdigits:example.org"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, senderDigits(id.UserID(tc.sender)), tc.sender)
	}
}
