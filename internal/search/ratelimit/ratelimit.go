package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements fixed-window token bucket rate limiting per client key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int           // tokens per window
	window  time.Duration // time window
	now     func() time.Time
	done    chan struct{}
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// New creates a new Limiter.
func New(rate int, window time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	// Start background cleanup
	go l.cleanup()

	return l
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	close(l.done)
}

// Allow consumes a token for key. When none is left it returns false and the
// time until the bucket refills.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:    l.rate,
			lastReset: now,
		}
		l.buckets[key] = b
	}

	if now.Sub(b.lastReset) >= l.window {
		b.tokens = l.rate
		b.lastReset = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}

	return false, l.window - now.Sub(b.lastReset)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// prune drops buckets idle for more than two windows.
func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastReset) > 2*l.window {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-l.done:
			return
		}
	}
}
