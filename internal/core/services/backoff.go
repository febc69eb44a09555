package services

import (
	"sync"
	"time"
)

// Backoff tracks per-bot retry delays after transient errors.
// State lives in memory only and is forgotten on success.
type Backoff struct {
	mu    sync.Mutex
	base  time.Duration
	max   time.Duration
	now   func() time.Time
	state map[string]backoffState
}

type backoffState struct {
	failures  int
	nextRetry time.Time
}

// NewBackoff creates a backoff tracker: base·2^(n-1), capped at max
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{
		base:  base,
		max:   max,
		now:   time.Now,
		state: make(map[string]backoffState),
	}
}

// Delay returns the wait after the n-th consecutive failure
func (b *Backoff) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := b.base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}

// Ready reports whether the bot may be polled now
func (b *Backoff) Ready(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.state[id]
	return !ok || !b.now().Before(s.nextRetry)
}

// Failure records a transient error and returns the delay until the next attempt
func (b *Backoff) Failure(id string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state[id]
	s.failures++
	d := b.Delay(s.failures)
	s.nextRetry = b.now().Add(d)
	b.state[id] = s
	return d
}

// Reset clears the bot's backoff after a successful fetch
func (b *Backoff) Reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, id)
}

// Failures returns the consecutive failure count
func (b *Backoff) Failures(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[id].failures
}
