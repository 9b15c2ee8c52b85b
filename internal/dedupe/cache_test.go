// ABOUTME: Tests for the announcement dedupe cache
// ABOUTME: Validates marking, forgetting, lazy expiry, eviction order and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize)
	c.now = clock.Now
	return c, clock
}

func TestCache_CheckAndMark(t *testing.T) {
	cache, _ := newCache(0, 100)

	assert.False(t, cache.Seen("p:PA_1"))
	assert.False(t, cache.CheckAndMark("p:PA_1"), "first announcement is new")
	assert.True(t, cache.CheckAndMark("p:PA_1"), "second announcement is a duplicate")
	assert.True(t, cache.Seen("p:PA_1"))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Forget(t *testing.T) {
	cache, _ := newCache(0, 100)

	cache.CheckAndMark("t:TR_1")
	cache.Forget("t:TR_1")
	cache.Forget("t:TR_1")
	cache.Forget("never-marked")

	assert.False(t, cache.Seen("t:TR_1"))
	assert.False(t, cache.CheckAndMark("t:TR_1"), "a forgotten key is accepted again")
}

func TestCache_Reset(t *testing.T) {
	cache, _ := newCache(0, 100)
	for i := range 10 {
		cache.CheckAndMark(fmt.Sprintf("k%d", i))
	}

	cache.Reset()

	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.CheckAndMark("k3"))
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	cache, clock := newCache(0, 100)
	cache.CheckAndMark("k")

	clock.Advance(24 * time.Hour)

	assert.True(t, cache.Seen("k"))
}

func TestCache_Expiry(t *testing.T) {
	cache, clock := newCache(time.Minute, 100)

	cache.CheckAndMark("old")
	clock.Advance(30 * time.Second)
	cache.CheckAndMark("new")
	clock.Advance(31 * time.Second)

	assert.False(t, cache.Seen("old"), "older than ttl")
	assert.True(t, cache.Seen("new"))
	assert.Equal(t, 1, cache.Len(), "expired keys are dropped on access")
	assert.False(t, cache.CheckAndMark("old"), "an expired key is accepted again")
}

func TestCache_EvictionOrder(t *testing.T) {
	cache, _ := newCache(0, 3)

	cache.CheckAndMark("a")
	cache.CheckAndMark("b")
	cache.CheckAndMark("c")
	cache.CheckAndMark("d")

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.Seen("a"), "oldest key is evicted first")
	assert.True(t, cache.Seen("b"))
	assert.True(t, cache.Seen("d"))
}

func TestCache_NonPositiveMaxSize(t *testing.T) {
	cache, _ := newCache(0, 0)

	cache.CheckAndMark("a")
	cache.CheckAndMark("b")

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Seen("b"))
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache, _ := newCache(0, 100)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contended") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load(), "exactly one caller sees the key as new")
}
