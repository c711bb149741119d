// Package ratelimit paces listing requests with token buckets: one shared
// bucket for the whole process and one per egress key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

const (
	maxKeys = 4096
	keyIdle = 10 * time.Minute
)

// Limiter manages the global and per-key rate limits.
type Limiter struct {
	global   *rate.Limiter
	mu       sync.Mutex
	limiters map[string]*keyed
	keyRate  rate.Limit
	keyBurst int
	maxKeys  int
}

type keyed struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Config holds rate limiter configuration. A non-positive RPS disables that bucket.
type Config struct {
	GlobalRPS   float64
	GlobalBurst int
	PerKeyRPS   float64
	PerKeyBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	metrics.Init()
	return &Limiter{
		global:   rate.NewLimiter(limit(cfg.GlobalRPS), burst(cfg.GlobalBurst)),
		limiters: make(map[string]*keyed),
		keyRate:  limit(cfg.PerKeyRPS),
		keyBurst: burst(cfg.PerKeyBurst),
		maxKeys:  maxKeys,
	}
}

// Wait blocks until both the global bucket and the bucket for key have a
// token, respecting the context. An empty key only waits on the global bucket.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	start := time.Now()
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay("global", d)
	}
	if key == "" || l.keyRate == rate.Inf {
		return nil
	}

	limiter := l.forKey(key, start)
	keyStart := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(keyStart); d > time.Millisecond {
		metrics.ObserveRateLimitDelay("egress", d)
	}
	return nil
}

// Keys reports how many per-key buckets are tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) forKey(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.pruneLocked(now)
		}
		k = &keyed{limiter: rate.NewLimiter(l.keyRate, l.keyBurst)}
		l.limiters[key] = k
	}
	k.lastUsed = now
	return k.limiter
}

// pruneLocked drops idle buckets, or the least recently used one when none
// is idle, so the map stays below maxKeys.
func (l *Limiter) pruneLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, k := range l.limiters {
		if now.Sub(k.lastUsed) > keyIdle {
			delete(l.limiters, key)
			continue
		}
		if oldestKey == "" || k.lastUsed.Before(oldest) {
			oldestKey, oldest = key, k.lastUsed
		}
	}
	if len(l.limiters) >= l.maxKeys && oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

func limit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burst(b int) int {
	if b <= 0 {
		return 1
	}
	return b
}
