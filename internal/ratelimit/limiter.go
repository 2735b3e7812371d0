// Package ratelimit implements fixed-window rate limiting over a shared
// atomic counter store with a per-process fallback.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CounterStore atomically increments a key, starting a window of the given
// length on first increment, and reports the post-increment count together
// with the remaining time until the window resets. The increment and the
// expiry set must be one indivisible unit relative to concurrent callers on
// the same key.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Err is set when a fail-closed call was denied because the shared
	// store was unreachable. It is never set on an ordinary denial.
	Err error
}

type Limiter struct {
	primary      CounterStore
	fallback     *MemoryStore
	storeTimeout time.Duration
	log          *zap.Logger

	fallbackHits atomic.Int64
	warnEvery    *rate.Limiter
}

func New(primary CounterStore, fallback *MemoryStore, storeTimeout time.Duration, log *zap.Logger) *Limiter {
	return &Limiter{
		primary:      primary,
		fallback:     fallback,
		storeTimeout: storeTimeout,
		log:          log,
		warnEvery:    rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// Check decides whether one more call under key is allowed within the
// fixed window. Store errors and timeouts never propagate to the caller;
// they resolve to the configured failure policy.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration, failClosed bool) Result {
	now := time.Now()

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, remaining, err := l.primary.Incr(storeCtx, key, window)
	if err != nil {
		return l.fallThrough(ctx, key, limit, window, failClosed, err)
	}

	return verdict(now, count, remaining, limit)
}

func (l *Limiter) fallThrough(ctx context.Context, key string, limit int, window time.Duration, failClosed bool, cause error) Result {
	l.fallbackHits.Add(1)
	if l.warnEvery.Allow() {
		l.log.Warn("counter store unavailable",
			zap.String("key", key),
			zap.Bool("failClosed", failClosed),
			zap.Int64("fallbackActivations", l.fallbackHits.Load()),
			zap.Error(cause),
		)
	}

	now := time.Now()

	if failClosed {
		return Result{
			Allowed: false,
			ResetAt: now.Add(window),
			Err:     fmt.Errorf("counter store unavailable: %w", cause),
		}
	}

	count, remaining, _ := l.fallback.Incr(ctx, key, window)
	return verdict(now, count, remaining, limit)
}

// FallbackActivations reports how many times the in-process fallback path
// has been taken since start.
func (l *Limiter) FallbackActivations() int64 {
	return l.fallbackHits.Load()
}

func verdict(now time.Time, count int64, remaining time.Duration, limit int) Result {
	left := limit - int(count)
	if left < 0 {
		left = 0
	}
	return Result{
		Allowed:   count <= int64(limit),
		Remaining: left,
		ResetAt:   now.Add(remaining),
	}
}
