package router

import (
	"sync"
	"time"
)

// RateLimiter caps messages per participant with a fixed per-minute
// window. State is tracked per user and pruned after inactivity.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*window
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter creates a limiter allowing limit messages per minute
// per user.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	return &RateLimiter{
		limit:   limit,
		windows: make(map[string]*window),
	}
}

// Allow reports whether userID may send another message now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.windows[userID]
	if !exists || now.Sub(w.start) >= time.Minute {
		rl.windows[userID] = &window{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup drops windows idle for five minutes. Call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, w := range rl.windows {
		if now.Sub(w.start) > 5*time.Minute {
			delete(rl.windows, userID)
		}
	}
}
