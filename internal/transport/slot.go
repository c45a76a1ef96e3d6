// ABOUTME: ConnectionSlot state tracking for the transport supervisor
// ABOUTME: Each slot owns one transport account and an explicit lifecycle state

package transport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SlotState is the lifecycle state of a connection slot
type SlotState string

const (
	StateDisconnected SlotState = "disconnected"
	StatePairing      SlotState = "pairing"
	StateConnected    SlotState = "connected"
	StateDegraded     SlotState = "degraded"
)

// SlotStatus is a point-in-time snapshot of a slot, safe to hand out
type SlotStatus struct {
	SlotID       string
	State        SlotState
	Provider     string
	Identity     string
	PairingCode  string
	LastActivity time.Time
	LastErr      error
}

// slot is the supervisor-internal state for one connection slot.
// All fields are guarded by mu; the run loop and the supervisor API both
// mutate it.
type slot struct {
	id string

	mu           sync.Mutex
	state        SlotState
	provider     string
	identity     string
	pairingCode  string
	lastActivity time.Time
	lastErr      error
	retries      int
	conn         Connection
	cancel       context.CancelFunc
	pairingTimer *time.Timer
}

func newSlot(id string) *slot {
	return &slot{
		id:    id,
		state: StateDisconnected,
	}
}

func (s *slot) status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStatus{
		SlotID:       s.id,
		State:        s.state,
		Provider:     s.provider,
		Identity:     s.identity,
		PairingCode:  s.pairingCode,
		LastActivity: s.lastActivity,
		LastErr:      s.lastErr,
	}
}

func (s *slot) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// liveConn returns the connection if the slot is usable for sending
func (s *slot) liveConn() (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || (s.state != StateConnected && s.state != StateDegraded) {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// stopPairingTimer cancels the pairing watchdog if one is armed.
// Must be called with mu held.
func (s *slot) stopPairingTimer() {
	if s.pairingTimer != nil {
		s.pairingTimer.Stop()
		s.pairingTimer = nil
	}
}

// normalizePairingCode strips formatting so that cosmetically different
// renderings of the same code are suppressed as duplicates.
func normalizePairingCode(code string) string {
	code = strings.ToUpper(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}
