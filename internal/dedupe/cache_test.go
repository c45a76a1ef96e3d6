// ABOUTME: Tests for the dedupe cache used to suppress duplicate inbound events.
// ABOUTME: Validates TTL expiry, size cap eviction, key helpers, and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Seen_FirstTime(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("fresh-key"))
	assert.True(t, cache.Seen("fresh-key"))
}

func TestCache_Seen_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("short-lived"))

	time.Sleep(20 * time.Millisecond)

	// Expired entries are treated as unseen again
	assert.False(t, cache.Seen("short-lived"))
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("retryable"))
	cache.Forget("retryable")
	assert.False(t, cache.Seen("retryable"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Seen("a")
	cache.Seen("b")
	cache.Seen("c")
	cache.Seen("d") // evicts "a"

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.Seen("a"), "oldest key should have been evicted")
}

func TestCache_DuplicateRefreshesPosition(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Seen("a")
	cache.Seen("b")
	cache.Seen("c")
	cache.Seen("a") // duplicate, moves to back
	cache.Seen("d") // should evict "b", not "a"

	assert.True(t, cache.Seen("a"))
	assert.False(t, cache.Seen("b"))
}

func TestCache_ConcurrentSeen(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Seen(fmt.Sprintf("key-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, cache.Len())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "evt:slot-1:ABC", EventKey("slot-1", "ABC"))
}

func TestAnswerKey(t *testing.T) {
	assert.Equal(t, "ans:iv-9:2", AnswerKey("iv-9", 2))
}
