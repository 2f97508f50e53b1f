// README: Sliding-window limiter for order creation, in memory or shared through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Message is the human-readable text returned with a 429.
func (d Decision) Message() string {
	if d.Allowed {
		return ""
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Too many orders. Please try again in %d seconds.", secs)
}

// Limiter admits at most limit events per key within the trailing window. A denied attempt is
// not recorded.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewMemoryLimiter(window time.Duration, limit int) *MemoryLimiter {
	return &MemoryLimiter{window: window, limit: limit, hits: make(map[string][]time.Time), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	hits := l.prune(key, now)
	if len(hits) >= l.limit {
		return Decision{RetryAfter: hits[0].Add(l.window).Sub(now)}, nil
	}
	l.hits[key] = append(hits, now)
	return Decision{Allowed: true}, nil
}

// Prune drops keys with no hits inside the window and returns how many were removed.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for key := range l.hits {
		if len(l.prune(key, now)) == 0 {
			delete(l.hits, key)
			n++
		}
	}
	return n
}

func (l *MemoryLimiter) prune(key string, now time.Time) []time.Time {
	hits := l.hits[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	l.hits[key] = hits
	return hits
}
