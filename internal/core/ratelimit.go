package core

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = time.Minute
)

// RateDecision is the outcome of one admission check.
type RateDecision struct {
	Allowed           bool
	RetryAfterSeconds int
}

type rateEntry struct {
	count         int
	windowResetAt time.Time
}

// RateLimiter is a fixed-window admission counter keyed by client identifier.
// State is process local, so every instance of the service counts separately.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*rateEntry
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimitRequests
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*rateEntry),
	}
}

// Admit counts one request for key. The check and the update happen under a
// single lock acquisition.
func (l *RateLimiter) Admit(key string) RateDecision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.windowResetAt) {
		l.entries[key] = &rateEntry{count: 1, windowResetAt: now.Add(l.window)}
		return RateDecision{Allowed: true}
	}

	if entry.count >= l.limit {
		retry := int(math.Ceil(entry.windowResetAt.Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		return RateDecision{Allowed: false, RetryAfterSeconds: retry}
	}

	entry.count++
	return RateDecision{Allowed: true}
}

// Sweep drops entries whose window has elapsed and returns how many were removed.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if now.After(entry.windowResetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}
