package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache()

	c.Set("k", "v", 0)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache()

	c.Set("k", 42, 20*time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache()

	c.Set("k", 1, 0)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)

	assert.True(t, rl.Allow("op"))
	assert.True(t, rl.Allow("op"))
	assert.False(t, rl.Allow("op"))

	// Independent keys have independent windows.
	assert.True(t, rl.Allow("other"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("op"))
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("op"))
	assert.False(t, rl.Allow("op"))

	rl.Reset("op")
	assert.True(t, rl.Allow("op"))
}
