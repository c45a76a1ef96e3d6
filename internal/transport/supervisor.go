// ABOUTME: Connection supervisor owning the slot arena and reconnect policy
// ABOUTME: Handles pairing, silent resume, keep-alive, and provider fallback

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talentvox/interviewd/internal/store"
)

// Supervisor errors
var (
	ErrSlotLimit   = errors.New("slot limit reached")
	ErrUnknownSlot = errors.New("unknown slot")
)

// SessionStore defines what the supervisor needs from persistence
type SessionStore interface {
	SaveTransportSession(ctx context.Context, session *store.TransportSession) error
	GetTransportSession(ctx context.Context, slotID string) (*store.TransportSession, error)
	DeleteTransportSession(ctx context.Context, slotID string) error
}

// Config holds supervisor timing and limit configuration
type Config struct {
	MaxSlots          int
	PairingTimeout    time.Duration
	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
}

func (c *Config) applyDefaults() {
	if c.MaxSlots == 0 {
		c.MaxSlots = 3
	}
	if c.PairingTimeout == 0 {
		c.PairingTimeout = 3 * time.Minute
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 25 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
}

// Inbound is a message event annotated with its originating slot
type Inbound struct {
	SlotID   string
	Provider string
	Message  *MessageEvent
}

// Supervisor owns up to MaxSlots connection slots, each backed by one of
// the providers in the priority-ordered fallback chain. Slots are isolated:
// a failure in one slot's connection never affects the others.
type Supervisor struct {
	providers []Provider
	sessions  SessionStore
	cfg       Config
	logger    *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot

	inbound chan Inbound

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewSupervisor creates a supervisor over the given provider chain.
// Provider order is the fallback priority.
func NewSupervisor(providers []Provider, sessions SessionStore, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		providers:  providers,
		sessions:   sessions,
		cfg:        cfg,
		logger:     logger.With("component", "transport"),
		slots:      make(map[string]*slot),
		inbound:    make(chan Inbound, 64),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Events returns the fan-in stream of inbound messages across all slots
func (sup *Supervisor) Events() <-chan Inbound {
	return sup.inbound
}

// Connect brings a slot up. If a persisted session exists it is resumed
// silently; otherwise a pairing code is requested from the provider chain.
// The returned status is either connected or pairing (carrying the code);
// pairing completion and failures surface via Status.
func (sup *Supervisor) Connect(ctx context.Context, slotID string) (SlotStatus, error) {
	sup.mu.Lock()
	s, ok := sup.slots[slotID]
	if !ok {
		if len(sup.slots) >= sup.cfg.MaxSlots {
			sup.mu.Unlock()
			return SlotStatus{}, ErrSlotLimit
		}
		s = newSlot(slotID)
		sup.slots[slotID] = s
	}
	sup.mu.Unlock()

	s.mu.Lock()
	if s.state == StateConnected || s.state == StatePairing {
		st := SlotStatus{
			SlotID: s.id, State: s.state, Provider: s.provider,
			Identity: s.identity, PairingCode: s.pairingCode,
			LastActivity: s.lastActivity, LastErr: s.lastErr,
		}
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	return sup.attemptConnect(ctx, s)
}

// Disconnect tears a slot down and clears its persisted session
func (sup *Supervisor) Disconnect(ctx context.Context, slotID string) error {
	sup.mu.Lock()
	s, ok := sup.slots[slotID]
	delete(sup.slots, slotID)
	sup.mu.Unlock()
	if !ok {
		return ErrUnknownSlot
	}

	s.mu.Lock()
	cancel, conn := s.cancel, s.conn
	s.cancel, s.conn = nil, nil
	s.state = StateDisconnected
	s.stopPairingTimer()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if err := sup.sessions.DeleteTransportSession(ctx, slotID); err != nil {
		return fmt.Errorf("clearing session for slot %s: %w", slotID, err)
	}
	sup.logger.Info("slot disconnected", "slot", slotID)
	return nil
}

// Status returns a snapshot of one slot
func (sup *Supervisor) Status(slotID string) (SlotStatus, error) {
	sup.mu.Lock()
	s, ok := sup.slots[slotID]
	sup.mu.Unlock()
	if !ok {
		return SlotStatus{}, ErrUnknownSlot
	}
	return s.status(), nil
}

// Statuses returns snapshots of all slots
func (sup *Supervisor) Statuses() []SlotStatus {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	out := make([]SlotStatus, 0, len(sup.slots))
	for _, s := range sup.slots {
		out = append(out, s.status())
	}
	return out
}

// Close stops all slot loops and connections
func (sup *Supervisor) Close() {
	sup.rootCancel()

	sup.mu.Lock()
	slots := make([]*slot, 0, len(sup.slots))
	for _, s := range sup.slots {
		slots = append(slots, s)
	}
	sup.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.state = StateDisconnected
		s.stopPairingTimer()
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	}
}

// SendText sends a plain text message through a slot's live connection
func (sup *Supervisor) SendText(ctx context.Context, slotID, to, text string) error {
	conn, err := sup.conn(slotID)
	if err != nil {
		return err
	}
	return conn.SendText(ctx, to, text)
}

// SendVoice sends a voice note through a slot's live connection
func (sup *Supervisor) SendVoice(ctx context.Context, slotID, to string, audio []byte, mimeType string) error {
	conn, err := sup.conn(slotID)
	if err != nil {
		return err
	}
	return conn.SendVoice(ctx, to, audio, mimeType)
}

// SendInteractive sends a rich choice prompt through a slot's live connection
func (sup *Supervisor) SendInteractive(ctx context.Context, slotID, to string, prompt *Interactive) error {
	conn, err := sup.conn(slotID)
	if err != nil {
		return err
	}
	return conn.SendInteractive(ctx, to, prompt)
}

// SendButtons sends a simplified button prompt through a slot's live connection
func (sup *Supervisor) SendButtons(ctx context.Context, slotID, to string, prompt *Interactive) error {
	conn, err := sup.conn(slotID)
	if err != nil {
		return err
	}
	return conn.SendButtons(ctx, to, prompt)
}

// Download fetches a voice-note payload through a slot's live connection
func (sup *Supervisor) Download(ctx context.Context, slotID string, ref *VoiceRef) ([]byte, error) {
	conn, err := sup.conn(slotID)
	if err != nil {
		return nil, err
	}
	return conn.Download(ctx, ref)
}

func (sup *Supervisor) conn(slotID string) (Connection, error) {
	sup.mu.Lock()
	s, ok := sup.slots[slotID]
	sup.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSlot
	}
	return s.liveConn()
}

func (sup *Supervisor) providerByName(name string) Provider {
	for _, p := range sup.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// attemptConnect tries silent resume from the persisted session first,
// then walks the provider fallback chain requesting a pairing code.
func (sup *Supervisor) attemptConnect(ctx context.Context, s *slot) (SlotStatus, error) {
	if sess, err := sup.sessions.GetTransportSession(ctx, s.id); err == nil {
		if p := sup.providerByName(sess.Provider); p != nil {
			if st, ok := sup.tryResume(ctx, s, p, sess.Blob); ok {
				return st, nil
			}
		} else {
			sup.logger.Warn("persisted session references unknown provider",
				"slot", s.id, "provider", sess.Provider)
		}
	}

	for _, p := range sup.providers {
		code, conn, err := p.Pair(ctx, s.id)
		if err != nil {
			if errors.Is(err, ErrPairingUnsupported) {
				sup.logger.Debug("provider cannot pair, falling through",
					"slot", s.id, "provider", p.Name())
			} else {
				sup.logger.Warn("provider pairing failed, falling through",
					"slot", s.id, "provider", p.Name(), "error", err)
			}
			continue
		}
		sup.beginPairing(s, p.Name(), code, conn)
		return s.status(), nil
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.lastErr = ErrNoProvider
	s.mu.Unlock()
	return s.status(), ErrNoProvider
}

// tryResume restores a session and verifies it with a real identity probe.
// File/blob presence alone is never treated as proof of connectivity.
func (sup *Supervisor) tryResume(ctx context.Context, s *slot, p Provider, blob []byte) (SlotStatus, bool) {
	conn, err := p.Resume(ctx, s.id, blob)
	if err != nil {
		sup.logger.Warn("session resume failed", "slot", s.id, "provider", p.Name(), "error", err)
		return SlotStatus{}, false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	identity, err := conn.Identity(probeCtx)
	cancel()
	if err != nil {
		conn.Close()
		sup.logger.Warn("resume identity probe failed", "slot", s.id, "provider", p.Name(), "error", err)
		return SlotStatus{}, false
	}
	if holder := sup.identityHolder(identity, s); holder != nil {
		conn.Close()
		sup.logger.Warn("resumed identity already held by another slot",
			"slot", s.id, "holder", holder.id, "identity", identity)
		return SlotStatus{}, false
	}

	sup.adopt(s, p.Name(), conn, identity)
	sup.logger.Info("session resumed", "slot", s.id, "provider", p.Name(), "identity", identity)
	return s.status(), true
}

// adopt installs a live connection on the slot and starts its run loop
func (sup *Supervisor) adopt(s *slot, provider string, conn Connection, identity string) {
	runCtx, cancel := context.WithCancel(sup.rootCtx)

	s.mu.Lock()
	s.stopPairingTimer()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil && s.conn != conn {
		s.conn.Close()
	}
	s.state = StateConnected
	s.provider = provider
	s.identity = identity
	s.conn = conn
	s.pairingCode = ""
	s.lastErr = nil
	// retries is left alone here: only a transport-confirmed open event
	// clears it, so repeated resume-then-fail cycles stay bounded
	s.lastActivity = time.Now()
	s.cancel = cancel
	s.mu.Unlock()

	sup.persistSession(s, nil)
	go sup.run(runCtx, s, conn, provider)
}

// beginPairing installs a pairing-in-progress connection and arms the
// bounded pairing watchdog
func (sup *Supervisor) beginPairing(s *slot, provider, code string, conn Connection) {
	runCtx, cancel := context.WithCancel(sup.rootCtx)

	s.mu.Lock()
	s.stopPairingTimer()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil && s.conn != conn {
		s.conn.Close()
	}
	s.state = StatePairing
	s.provider = provider
	s.pairingCode = code
	s.conn = conn
	s.lastErr = nil
	s.cancel = cancel
	s.pairingTimer = time.AfterFunc(sup.cfg.PairingTimeout, func() {
		sup.pairingExpired(s)
	})
	s.mu.Unlock()

	sup.logger.Info("pairing code issued", "slot", s.id, "provider", provider)
	go sup.run(runCtx, s, conn, provider)
}

// pairingExpired enforces the bounded pairing wait: the attempt fails and
// the slot returns to disconnected, never stuck in pairing.
func (sup *Supervisor) pairingExpired(s *slot) {
	s.mu.Lock()
	if s.state != StatePairing {
		s.mu.Unlock()
		return
	}
	conn, cancel := s.conn, s.cancel
	s.state = StateDisconnected
	s.pairingCode = ""
	s.conn = nil
	s.cancel = nil
	s.pairingTimer = nil
	s.lastErr = ErrPairingTimeout
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	sup.logger.Warn("pairing timed out", "slot", s.id)
}

// run is the per-slot event loop. It owns keep-alive and forwards events;
// it exits when the connection closes or the slot is torn down.
func (sup *Supervisor) run(ctx context.Context, s *slot, conn Connection, provider string) {
	keepalive := time.NewTicker(sup.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	pingFailures := 0

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-conn.Events():
			if !ok {
				sup.handleClose(s, conn, CloseTransient, errors.New("event stream ended"))
				return
			}
			switch evt.Type {
			case EventMessage:
				s.touch()
				if evt.Message == nil {
					continue
				}
				select {
				case sup.inbound <- Inbound{SlotID: s.id, Provider: provider, Message: evt.Message}:
				case <-ctx.Done():
					return
				}

			case EventCredentials:
				// Write-through: losing a credential update after a crash
				// would force re-pairing.
				sup.persistSession(s, evt.Credentials)

			case EventPairingCode:
				sup.updatePairingCode(s, evt.PairingCode)

			case EventState:
				if evt.Open {
					if !sup.markOpen(ctx, s, conn) {
						sup.handleClose(s, conn, CloseConflict,
							errors.New("paired identity already held by another slot"))
						return
					}
					pingFailures = 0
				} else {
					sup.handleClose(s, conn, evt.Close, evt.Err)
					return
				}
			}

		case <-keepalive.C:
			s.mu.Lock()
			connected := s.state == StateConnected && s.conn == conn
			s.mu.Unlock()
			if !connected {
				continue
			}

			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				pingFailures++
				sup.logger.Warn("keep-alive ping failed",
					"slot", s.id, "failures", pingFailures, "error", err)
				if pingFailures >= 2 {
					sup.handleClose(s, conn, CloseTransient,
						fmt.Errorf("keep-alive failed %d times: %w", pingFailures, err))
					return
				}
			} else {
				pingFailures = 0
				s.touch()
			}
		}
	}
}

// markOpen transitions a pairing or degraded slot to connected. Returns
// false when the paired identity is already held by another slot; at most
// one slot may hold a given identity.
func (sup *Supervisor) markOpen(ctx context.Context, s *slot, conn Connection) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	identity, err := conn.Identity(probeCtx)
	cancel()
	if err != nil {
		identity = ""
	}
	if holder := sup.identityHolder(identity, s); holder != nil {
		sup.logger.Warn("paired identity already held by another slot",
			"slot", s.id, "holder", holder.id, "identity", identity)
		return false
	}

	s.mu.Lock()
	s.stopPairingTimer()
	s.state = StateConnected
	if identity != "" {
		s.identity = identity
	}
	s.pairingCode = ""
	s.retries = 0
	s.lastErr = nil
	s.lastActivity = time.Now()
	s.mu.Unlock()

	sup.persistSession(s, nil)

	st := s.status()
	sup.logger.Info("slot connected", "slot", s.id, "provider", st.Provider, "identity", st.Identity)
	return true
}

// identityHolder returns the slot other than s currently holding the given
// paired identity, if any
func (sup *Supervisor) identityHolder(identity string, s *slot) *slot {
	if identity == "" {
		return nil
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for _, other := range sup.slots {
		if other == s {
			continue
		}
		other.mu.Lock()
		held := other.identity == identity &&
			(other.state == StateConnected || other.state == StateDegraded)
		other.mu.Unlock()
		if held {
			return other
		}
	}
	return nil
}

// updatePairingCode replaces the slot's code only when the new one is
// materially different; duplicate identical codes are suppressed to avoid
// redundant operator notifications.
func (sup *Supervisor) updatePairingCode(s *slot, code string) {
	if code == "" {
		return
	}
	s.mu.Lock()
	if normalizePairingCode(code) == normalizePairingCode(s.pairingCode) {
		s.mu.Unlock()
		return
	}
	s.pairingCode = code
	s.mu.Unlock()
	sup.logger.Info("pairing code regenerated", "slot", s.id)
}

// handleClose applies the reconnect policy for a classified close reason
func (sup *Supervisor) handleClose(s *slot, conn Connection, class CloseClass, cause error) {
	conn.Close()
	if cause == nil {
		cause = errors.New("connection closed")
	}

	// A connection that was displaced by a newer one must not apply
	// policy on its way out
	s.mu.Lock()
	current := s.conn == conn
	s.mu.Unlock()
	if !current {
		return
	}

	switch class {
	case CloseAuthRevoked:
		// Terminal: the session is gone, a fresh pairing code is required
		if err := sup.sessions.DeleteTransportSession(context.Background(), s.id); err != nil {
			sup.logger.Error("clearing revoked session failed", "slot", s.id, "error", err)
		}
		sup.park(s, fmt.Errorf("authentication revoked: %w", cause))
		sup.logger.Warn("authentication revoked, re-pairing required", "slot", s.id)

	case CloseConflict:
		// Another process holds this identity; retrying in a loop would
		// just keep stealing the session back and forth
		if err := sup.sessions.DeleteTransportSession(context.Background(), s.id); err != nil {
			sup.logger.Error("clearing conflicted session failed", "slot", s.id, "error", err)
		}
		sup.park(s, fmt.Errorf("session conflict: %w", cause))
		sup.logger.Warn("session conflict with another process, fresh pairing required", "slot", s.id)

	case CloseTransient:
		sup.degrade(s, cause)
		sup.scheduleReconnect(s, sup.cfg.ReconnectDelay)
		sup.logger.Info("transient transport error, reconnecting",
			"slot", s.id, "delay", sup.cfg.ReconnectDelay, "error", cause)

	default:
		s.mu.Lock()
		s.retries++
		retries := s.retries
		s.mu.Unlock()
		if retries > sup.cfg.MaxRetries {
			sup.park(s, fmt.Errorf("giving up after %d reconnect attempts: %w", retries-1, cause))
			sup.logger.Error("slot failed permanently", "slot", s.id, "error", cause)
			return
		}
		sup.degrade(s, cause)
		sup.scheduleReconnect(s, sup.cfg.RetryDelay)
		sup.logger.Warn("transport closed, retrying",
			"slot", s.id, "attempt", retries, "delay", sup.cfg.RetryDelay, "error", cause)
	}
}

// park moves a slot to disconnected with a recorded error
func (sup *Supervisor) park(s *slot, cause error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopPairingTimer()
	s.state = StateDisconnected
	s.conn = nil
	s.identity = ""
	s.pairingCode = ""
	s.lastErr = cause
	s.mu.Unlock()
}

// degrade marks a slot as auto-retrying
func (sup *Supervisor) degrade(s *slot, cause error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateDegraded
	s.conn = nil
	s.lastErr = cause
	s.mu.Unlock()
}

// scheduleReconnect re-runs the connect path after a delay, provided the
// slot is still degraded when the timer fires
func (sup *Supervisor) scheduleReconnect(s *slot, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if sup.rootCtx.Err() != nil {
			return
		}
		s.mu.Lock()
		if s.state != StateDegraded {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(sup.rootCtx, time.Minute)
		defer cancel()
		if _, err := sup.attemptConnect(ctx, s); err != nil {
			sup.logger.Error("reconnect attempt failed", "slot", s.id, "error", err)
		}
	})
}

// persistSession writes the slot's session through to storage. When blob
// is nil the existing blob is preserved and only provider/identity refresh.
func (sup *Supervisor) persistSession(s *slot, blob []byte) {
	s.mu.Lock()
	provider, identity := s.provider, s.identity
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if blob == nil {
		existing, err := sup.sessions.GetTransportSession(ctx, s.id)
		if err != nil {
			// Nothing persisted yet; the provider's credential event will
			// deliver the first blob.
			return
		}
		blob = existing.Blob
	}

	err := sup.sessions.SaveTransportSession(ctx, &store.TransportSession{
		SlotID:   s.id,
		Provider: provider,
		Identity: identity,
		Blob:     blob,
	})
	if err != nil {
		sup.logger.Error("persisting session failed", "slot", s.id, "error", err)
	}
}
