// ABOUTME: Tests for the duplicate frame suppression cache.
// ABOUTME: Validates key derivation, TTL expiration, eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey_StableForIdenticalFrames(t *testing.T) {
	a := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "hello")
	b := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "hello")
	assert.Equal(t, a, b, "a resent frame must map to the same key")
}

func TestKey_DistinguishesFrames(t *testing.T) {
	base := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "hello")

	assert.NotEqual(t, base, Key("conv-2", "user-1", "2026-03-01T10:00:00Z", "hello"),
		"different conversation is a different frame")
	assert.NotEqual(t, base, Key("conv-1", "user-2", "2026-03-01T10:00:00Z", "hello"),
		"different author is a different frame")
	assert.NotEqual(t, base, Key("conv-1", "user-1", "2026-03-01T10:00:05Z", "hello"),
		"a later client timestamp is an intentional repeat, not a resend")
	assert.NotEqual(t, base, Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "hello there"),
		"different payload is a different frame")
}

func TestCheckAndMark_ResendRejected(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "did you get this?")

	assert.False(t, cache.CheckAndMark(key), "first delivery passes")
	assert.True(t, cache.CheckAndMark(key), "the resend is rejected")
}

func TestCheckAndMark_ExpiredKeyPassesAgain(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	key := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "hello")
	assert.False(t, cache.CheckAndMark(key))
	assert.True(t, cache.CheckAndMark(key), "seen before expiry")

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.CheckAndMark(key), "an expired key is treated as new")
}

func TestForget_AllowsRetryAfterFailure(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "hello")
	assert.False(t, cache.CheckAndMark(key))

	// Processing failed; the client was told to retry this exact frame.
	cache.Forget(key)

	assert.False(t, cache.CheckAndMark(key), "a forgotten key passes again")
	assert.True(t, cache.CheckAndMark(key))
}

func TestForget_UnknownKeyIsNoop(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Forget("never-seen")
	assert.False(t, cache.Check("never-seen"))
}

func TestCheck_DoesNotMark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Check("never-seen"))
	assert.False(t, cache.Check("never-seen"), "Check alone must not record the key")

	cache.Mark("seen")
	assert.True(t, cache.Check("seen"))
}

func TestMark_RefreshesTimestamp(t *testing.T) {
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("refresh-key")
	time.Sleep(30 * time.Millisecond)
	cache.Mark("refresh-key")
	time.Sleep(30 * time.Millisecond)

	// Past the original TTL but within the refreshed one.
	assert.True(t, cache.Check("refresh-key"))
}

func TestEviction_OldestFirst(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("first")
	cache.Mark("second")
	cache.Mark("third")

	cache.Mark("fourth")
	assert.False(t, cache.Check("first"), "first should be evicted")
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))

	cache.Mark("fifth")
	assert.False(t, cache.Check("second"), "second should be evicted")
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))
	assert.True(t, cache.Check("fifth"))
}

func TestRunCleanup_RemovesExpiredEntries(t *testing.T) {
	// The cleanup goroutine ticks every minute, so drive it directly.
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("cleanup-1")
	cache.Mark("cleanup-2")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()

	cache.mu.RLock()
	mapLen := len(cache.seen)
	cache.mu.RUnlock()
	assert.Equal(t, 0, mapLen, "cleanup should remove expired entries from the map")
}

func TestCheckAndMark_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100
	key := Key("conv-1", "user-1", "2026-03-01T10:00:00Z", "contested")

	// All goroutines race to deliver the same resent frame; exactly one
	// may pass.
	var passCount int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark(key) {
				mu.Lock()
				passCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), passCount,
		"exactly one delivery of a contested frame may pass")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 50
	const framesPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < framesPerGoroutine; j++ {
				key := Key(fmt.Sprintf("conv-%d", id), "user-1",
					fmt.Sprintf("2026-03-01T10:00:%02dZ", j%60), "payload")
				cache.CheckAndMark(key)
				cache.Check(key)
			}
		}(i)
	}
	wg.Wait()

	// Cache is still functional after the storm.
	cache.Mark("final-key")
	assert.True(t, cache.Check("final-key"))
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Mark("before-close")
	assert.True(t, cache.Check("before-close"))

	cache.Close()
	cache.Close() // Multiple closes should not panic
}
