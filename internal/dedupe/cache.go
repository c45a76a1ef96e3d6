// ABOUTME: TTL and size bounded seen-key cache for inbound event deduplication.
// ABOUTME: Guards against duplicate webhook deliveries and double answer processing.

package dedupe

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Defaults sized for a single-node deployment. TTL only needs to cover
// the provider's redelivery window.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

// EventKey builds a dedupe key for a provider-assigned event id.
func EventKey(slotID, eventID string) string {
	return fmt.Sprintf("evt:%s:%s", slotID, eventID)
}

// AnswerKey builds a dedupe key for a (interview, question index) pair.
// A second inbound message for an index that already produced a response
// must be a no-op, not a second advance.
func AnswerKey(interviewID string, index int) string {
	return fmt.Sprintf("ans:%s:%d", interviewID, index)
}

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache is a thread-safe seen-key cache with TTL expiry and a hard size
// cap. Insertion order is kept in a linked list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum entry count and
// starts a background sweep goroutine.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically reports whether key was already recorded and, if not,
// records it. Returns true for duplicates.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.at) < c.ttl {
		return true
	}
	c.record(key)
	return false
}

// Forget removes a key so it can be processed again. Used when a
// downstream write failed and the event should be retried.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.elem)
		delete(c.seen, key)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) record(key string) {
	now := time.Now()

	if e, ok := c.seen[key]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &entry{at: now, elem: elem}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
