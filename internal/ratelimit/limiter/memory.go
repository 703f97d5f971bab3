// Package limiter holds per-key request limiters.
package limiter

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hcert/internal/ratelimit/models"
)

// MapLimiter applies a token bucket per string key and periodically evicts idle entries.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*entry
	hits    uint64
	idleTTL time.Duration
	now     func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMapLimiter creates a key-based limiter; returns nil if args are invalid.
func NewMapLimiter(rps float64, burst int, idleTTL time.Duration) *MapLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*entry),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Check consumes one token for key. A nil limiter or blank key is always allowed.
func (l *MapLimiter) Check(_ context.Context, key string) (*models.Result, error) {
	if l == nil {
		return &models.Result{Allowed: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return &models.Result{Allowed: true, Limit: l.burst, Remaining: l.burst}, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &entry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	tokens := e.limiter.TokensAt(now)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	res := &models.Result{
		Allowed:   allowed,
		Limit:     l.burst,
		Remaining: max(int(tokens), 0),
	}
	// seconds until one full token is available again
	wait := 0.0
	if tokens < 1 {
		wait = (1 - tokens) / float64(l.limit)
	}
	res.ResetAt = now.Add(time.Duration(wait * float64(time.Second)))
	if !allowed {
		res.RetryAfter = max(int(math.Ceil(wait)), 1)
	}
	return res, nil
}

// Len reports the number of tracked keys.
func (l *MapLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
