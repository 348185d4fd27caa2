package signal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

// RateLimiter is a per-party sliding window limiter.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PartyID][]time.Time
	limit    int
	interval time.Duration
	clock    clock.Clock
}

func NewRateLimiter(limit int, interval time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		history:  make(map[domain.PartyID][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clk,
	}
}

func (rl *RateLimiter) Allow(party domain.PartyID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[party]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[party] = fresh
		return false
	}

	rl.history[party] = append(fresh, now)
	return true
}

// Forget drops the history of a party that went away.
func (rl *RateLimiter) Forget(party domain.PartyID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, party)
}
