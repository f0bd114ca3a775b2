package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < eventsPerWindow; i++ {
		assert.True(t, rl.Allow("alice"), "event %d should pass", i)
	}
	assert.False(t, rl.Allow("alice"))
}

func TestBudgetIsPerUser(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < eventsPerWindow; i++ {
		rl.Allow("alice")
	}
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "one noisy user cannot exhaust another's budget")
}

func TestWindowResets(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < eventsPerWindow; i++ {
		rl.Allow("alice")
	}
	assert.False(t, rl.Allow("alice"))

	// Age the window past its length instead of sleeping.
	rl.mu.Lock()
	rl.users["alice"].windowStart = time.Now().Add(-window - time.Second)
	rl.mu.Unlock()

	assert.True(t, rl.Allow("alice"))
}

func TestCleanupDropsIdleWindows(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("alice")
	rl.Allow("bob")

	rl.mu.Lock()
	rl.users["alice"].windowStart = time.Now().Add(-6 * window)
	rl.mu.Unlock()

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.users, "alice")
	assert.Contains(t, rl.users, "bob")
}
