package dispatch

import (
	"sync"
	"time"
)

const (
	eventsPerWindow = 100
	window          = time.Minute
)

// RateLimiter caps inbound events per user with a fixed one-minute
// window. Keyed by user, not connection, so multi-device clients share
// one budget.
type RateLimiter struct {
	mu    sync.Mutex
	users map[string]*userWindow
}

type userWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{users: make(map[string]*userWindow)}
}

func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.users[userID]
	if !exists {
		rl.users[userID] = &userWindow{count: 1, windowStart: now}
		return true
	}
	if now.Sub(w.windowStart) >= window {
		w.count = 1
		w.windowStart = now
		return true
	}
	if w.count >= eventsPerWindow {
		return false
	}
	w.count++
	return true
}

// Cleanup drops windows idle for five times the window length. Called
// by the maintenance sweep.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, w := range rl.users {
		if now.Sub(w.windowStart) > 5*window {
			delete(rl.users, userID)
		}
	}
}
