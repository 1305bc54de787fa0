package llm

import (
	"sync"
	"time"
)

// DefaultRPMCap bounds requests per minute against the explorer provider.
const DefaultRPMCap = 35

// RPMLimiter is a sliding 60 second request window guarded by a mutex.
// Entering the limiter is the only synchronous point in the otherwise
// lock-free request path.
type RPMLimiter struct {
	mu     sync.Mutex
	cap    int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewRPMLimiter creates a limiter admitting at most cap requests per
// sliding minute. A non-positive cap falls back to DefaultRPMCap.
func NewRPMLimiter(cap int) *RPMLimiter {
	if cap <= 0 {
		cap = DefaultRPMCap
	}
	return &RPMLimiter{
		cap:    cap,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow consumes a slot when the window has room. The slot is spent
// whether or not the subsequent provider call succeeds.
func (l *RPMLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)
	if len(l.stamps) >= l.cap {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Used returns the number of slots consumed inside the current window.
func (l *RPMLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.now())
	return len(l.stamps)
}

// Cap returns the configured window capacity.
func (l *RPMLimiter) Cap() int { return l.cap }

func (l *RPMLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept
}
