// Package ratelimit provides per-key token-bucket rate limiting for
// authentication-adjacent endpoints (login, password reset). Keys are
// caller-chosen; auth paths key by case-folded email so limits follow the
// account, not the connection.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per key. Idle buckets are garbage
// collected so the map does not grow with every address ever seen.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// gcInterval and gcIdle control bucket garbage collection.
const (
	gcInterval = 5 * time.Minute
	gcIdle     = 30 * time.Minute
)

// NewPerWindow creates a limiter allowing n attempts per window per key.
// Tokens refill continuously; a fully drained key recovers one attempt
// every window/n.
func NewPerWindow(n int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   rate.Every(window / time.Duration(n)),
		burst:   n,
		buckets: make(map[string]*bucket),
	}
	go l.gcLoop()
	return l
}

// Allow reports whether the key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// RetryAfter returns how long the key must wait for its next token. Zero
// when a token is available now. The reservation is cancelled, so asking
// does not consume.
func (l *Limiter) RetryAfter(key string) time.Duration {
	r := l.get(key).Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.lim
}

func (l *Limiter) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-gcIdle)
		l.mu.Lock()
		for k, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, k)
			}
		}
		l.mu.Unlock()
	}
}
