package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// verificationAttemptScript counts one attempt. The key is created with the budget's
// TTL and the TTL is only ever shortened, so a budget never outlives the challenge it
// guards even when a resend brought in an earlier deadline.
var verificationAttemptScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
local wanted = tonumber(ARGV[1])
if current == 1 or ttl < 0 or ttl > wanted then
  redis.call("PEXPIRE", KEYS[1], wanted)
  ttl = wanted
end
return {current, ttl}
`)

// RedisRateLimiter implements distributed fixed-window throttling of verification
// attempts, so that every replica shares one budget per transfer.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "transfa:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		now:    time.Now,
	}
}

// keyFor builds the Redis key of a budget. The owner is a hash tag so one user's
// budgets share a cluster slot.
func (r *RedisRateLimiter) keyFor(key AttemptKey) string {
	return fmt.Sprintf("%s:verification:%s:{%s}:%s", r.prefix, key.Action, key.OwnerID, key.TransferID)
}

// Allow consumes one attempt from the budget and reports whether it was within the limit.
func (r *RedisRateLimiter) Allow(ctx context.Context, key AttemptKey, limit int, window time.Duration) (bool, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return true, 0, nil
	}
	if strings.TrimSpace(key.Action) == "" || key.TransferID == uuid.Nil {
		return true, 0, nil
	}

	ttlMs := attemptTTL(window, key.ExpiresAt, r.now()).Milliseconds()
	rawResult, err := verificationAttemptScript.Run(ctx, r.client, []string{r.keyFor(key)}, ttlMs).Result()
	if err != nil {
		return false, 0, err
	}

	count, remainingMs, err := parseAttemptResult(rawResult)
	if err != nil {
		return false, 0, err
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	if remainingMs < 0 {
		remainingMs = ttlMs
	}
	retryAfter := int(math.Ceil(float64(remainingMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}

func parseAttemptResult(raw interface{}) (count int64, ttlMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok = values[1].(int64)
	if !ok {
		return count, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	return count, ttlMs, nil
}
