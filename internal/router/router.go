// ABOUTME: Inbound message router: normalization, dedupe, candidate dispatch
// ABOUTME: Serializes per sender, runs different senders concurrently

package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/talentvox/interviewd/internal/dedupe"
	"github.com/talentvox/interviewd/internal/store"
	"github.com/talentvox/interviewd/internal/transport"
)

// Message kinds after normalization
const (
	KindText    = "text"
	KindVoice   = "voice"
	KindControl = "control"
)

// Message is a normalized inbound message ready for the state machine
type Message struct {
	EventID  string
	Provider string
	Kind     string
	Text     string
	Button   string
	Voice    *transport.VoiceRef
}

// Handler consumes routed messages for a matched candidate
type Handler interface {
	Handle(ctx context.Context, slotID string, candidate *store.Candidate, msg *Message) error
}

// CandidateDirectory is the store slice the router needs
type CandidateDirectory interface {
	FindCandidateByPhone(ctx context.Context, digits string) (*store.Candidate, error)
}

// lookupTimeout bounds the candidate directory call per event
const lookupTimeout = 10 * time.Second

// queueCapacity bounds the per-sender backlog; events beyond it are
// dropped rather than blocking other senders
const queueCapacity = 16

// Router fans supervisor events out to per-sender worker queues
type Router struct {
	events     <-chan transport.Inbound
	candidates CandidateDirectory
	seen       *dedupe.Cache
	handler    Handler
	logger     *slog.Logger

	mu     sync.Mutex
	queues map[string]chan queued
	wg     sync.WaitGroup
}

type queued struct {
	slotID string
	msg    *Message
	from   string
}

// New creates a Router over the supervisor's inbound stream
func New(events <-chan transport.Inbound, candidates CandidateDirectory, seen *dedupe.Cache, handler Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		events:     events,
		candidates: candidates,
		seen:       seen,
		handler:    handler,
		logger:     logger.With("component", "router"),
		queues:     make(map[string]chan queued),
	}
}

// Run consumes events until the context is cancelled or the stream closes
func (r *Router) Run(ctx context.Context) {
	defer r.drain()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-r.events:
			if !ok {
				return
			}
			r.dispatch(ctx, in)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, in transport.Inbound) {
	raw := in.Message
	if raw == nil || raw.FromSelf {
		return
	}
	if raw.ChatType != transport.ChatDirect {
		r.logger.Debug("dropping non-direct message", "slot", in.SlotID, "chat_type", raw.ChatType)
		return
	}
	if raw.EventID != "" && r.seen.Seen(dedupe.EventKey(in.SlotID, raw.EventID)) {
		r.logger.Debug("dropping duplicate event", "slot", in.SlotID, "event", raw.EventID)
		return
	}

	msg := normalize(raw)
	msg.Provider = in.Provider
	queue := r.queueFor(ctx, raw.From)
	select {
	case queue <- queued{slotID: in.SlotID, msg: msg, from: raw.From}:
	default:
		r.logger.Warn("sender queue full, dropping event",
			"slot", in.SlotID, "sender", raw.From, "event", raw.EventID)
	}
}

// normalize maps a raw transport message onto the canonical kinds
func normalize(raw *transport.MessageEvent) *Message {
	msg := &Message{
		EventID: raw.EventID,
		Text:    strings.TrimSpace(raw.Text),
		Button:  raw.Button,
		Voice:   raw.Voice,
	}
	switch {
	case raw.Button != "":
		msg.Kind = KindControl
	case raw.Voice != nil:
		msg.Kind = KindVoice
	default:
		msg.Kind = KindText
	}
	return msg
}

// queueFor returns the serialized worker queue for a sender, creating it
// on first use
func (r *Router) queueFor(ctx context.Context, sender string) chan queued {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[sender]; ok {
		return q
	}
	q := make(chan queued, queueCapacity)
	r.queues[sender] = q
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q:
				if !ok {
					return
				}
				r.process(ctx, job)
			}
		}
	}()
	return q
}

func (r *Router) process(ctx context.Context, job queued) {
	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	candidate, err := r.candidates.FindCandidateByPhone(lookupCtx, digitsOnly(job.from))
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Info("dropping message from unmatched sender",
				"slot", job.slotID, "sender", job.from)
		} else {
			r.logger.Error("candidate lookup failed",
				"slot", job.slotID, "sender", job.from, "error", err)
		}
		return
	}

	start := time.Now()
	err = r.handler.Handle(ctx, job.slotID, candidate, job.msg)
	logger := r.logger.With(
		"slot", job.slotID,
		"candidate", candidate.ID,
		"kind", job.msg.Kind,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	if err != nil {
		logger.Error("message handling failed", "error", err)
		return
	}
	logger.Info("message handled")
}

func (r *Router) drain() {
	r.mu.Lock()
	for _, q := range r.queues {
		close(q)
	}
	r.queues = make(map[string]chan queued)
	r.mu.Unlock()
	r.wg.Wait()
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
