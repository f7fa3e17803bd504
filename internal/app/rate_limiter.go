package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AttemptKey names the budget a verification attempt draws from: one action on one
// transfer by its owner. ExpiresAt is the deadline of the challenge being guarded;
// once it passes the budget has nothing left to protect.
type AttemptKey struct {
	Action     string
	OwnerID    string
	TransferID uuid.UUID
	ExpiresAt  time.Time
}

func (k AttemptKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Action, k.OwnerID, k.TransferID)
}

// RateLimiter throttles repeated verification attempts. retryAfterSeconds is only
// meaningful when allowed is false.
type RateLimiter interface {
	Allow(ctx context.Context, key AttemptKey, limit int, window time.Duration) (allowed bool, retryAfterSeconds int, err error)
}

// pruner is implemented by limiters that hold per-key state in memory.
type pruner interface {
	Prune(now time.Time) int
}

// attemptTTL returns how long a budget must be kept: the window, cut short when the
// guarded challenge expires first. It is never below one second.
func attemptTTL(window time.Duration, expiresAt, now time.Time) time.Duration {
	ttl := window
	if !expiresAt.IsZero() {
		if remaining := expiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

type localBucket struct {
	limiter   *rate.Limiter
	window    time.Duration
	lastUsed  time.Time
	expiresAt time.Time
}

// LocalRateLimiter is a per-process token bucket limiter. It is used when Redis is not
// configured and as the fallback when Redis is unreachable.
type LocalRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

func (l *LocalRateLimiter) Allow(ctx context.Context, key AttemptKey, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 || window <= 0 {
		return true, 0, nil
	}

	interval := window / time.Duration(limit)
	now := l.now()

	l.mu.Lock()
	bucket, ok := l.buckets[key.String()]
	if !ok {
		bucket = &localBucket{limiter: rate.NewLimiter(rate.Every(interval), limit), window: window}
		l.buckets[key.String()] = bucket
	}
	bucket.lastUsed = now
	if key.ExpiresAt.After(bucket.expiresAt) {
		bucket.expiresAt = key.ExpiresAt
	}
	allowed := bucket.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if allowed {
		return true, 0, nil
	}
	retryAfter := int(math.Ceil(interval.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}

// Prune drops buckets that can no longer throttle anything: idle for a whole window
// (the bucket has refilled) or guarding a challenge that has expired. It returns the
// number of buckets removed.
func (l *LocalRateLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, bucket := range l.buckets {
		idle := now.Sub(bucket.lastUsed) >= bucket.window
		expired := !bucket.expiresAt.IsZero() && !now.Before(bucket.expiresAt)
		if idle || expired {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked budgets.
func (l *LocalRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// FallbackRateLimiter consults the primary limiter and falls back to the secondary one
// when the primary errors.
type FallbackRateLimiter struct {
	primary   RateLimiter
	secondary RateLimiter
	logger    zerolog.Logger
}

func NewFallbackRateLimiter(primary, secondary RateLimiter, logger zerolog.Logger) *FallbackRateLimiter {
	return &FallbackRateLimiter{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackRateLimiter) Allow(ctx context.Context, key AttemptKey, limit int, window time.Duration) (bool, int, error) {
	allowed, retryAfter, err := f.primary.Allow(ctx, key, limit, window)
	if err == nil {
		return allowed, retryAfter, nil
	}
	f.logger.Warn().Err(err).Str("action", key.Action).Msg("primary rate limiter failed; using local limiter")
	return f.secondary.Allow(ctx, key, limit, window)
}

// Prune forwards to whichever side keeps in-process state.
func (f *FallbackRateLimiter) Prune(now time.Time) int {
	removed := 0
	for _, limiter := range []RateLimiter{f.primary, f.secondary} {
		if p, ok := limiter.(pruner); ok {
			removed += p.Prune(now)
		}
	}
	return removed
}
