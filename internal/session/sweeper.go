package session

import (
	"context"
	"log"
	"time"
)

// Sweeper is the periodic expiry pass. It is a liveness guarantee, not
// a correctness dependency: the manager's lazy check already keeps
// every read correct between sweeps, the sweeper just makes sure idle
// sessions are torn down without waiting for the next access.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper over manager's store.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{manager: manager, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweep(ctx)
		case <-ctx.Done():
			log.Println("Expiry sweeper stopped")
			return
		}
	}
}

// sweep expires every open session past its deadline.
func (sw *Sweeper) sweep(ctx context.Context) {
	sessions, err := sw.manager.store.ListOpen(ctx)
	if err != nil {
		log.Printf("Expiry sweep failed to list sessions: %v", err)
		return
	}

	now := sw.manager.now()
	swept := 0
	for _, s := range sessions {
		if s.ExpiredAt(now) {
			sw.manager.expire(ctx, s)
			swept++
		}
	}
	if swept > 0 {
		log.Printf("Expiry sweep: expired=%d scanned=%d", swept, len(sessions))
	}
}
