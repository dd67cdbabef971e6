// Package concurrency enforces per-campaign dialing caps with Redis
// counters. The global cap is enforced transactionally against attempt
// rows; campaign caps only need to be approximately fair, so a shared
// counter with a TTL backstop is enough.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// acquireScript reserves a slot when the counter is below the limit. The
// TTL refresh on every acquire keeps crashed processes from leaking slots
// forever.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

// releaseScript decrements the counter, deleting it at zero so idle
// campaigns leave no keys behind.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 1 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)

// Limiter tracks in-flight calls per campaign.
type Limiter struct {
	client       *redis.Client
	defaultLimit int
	ttl          time.Duration
}

// NewLimiter constructs a limiter. defaultLimit applies to campaigns
// without an explicit cap; ttl bounds how long a leaked slot survives and
// should exceed the longest possible call.
func NewLimiter(client *redis.Client, defaultLimit int, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Limiter{client: client, defaultLimit: defaultLimit, ttl: ttl}
}

// Acquire reserves a dialing slot for the campaign. A false return means
// the campaign is at its cap and the contact should wait for a later tick.
func (l *Limiter) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	if limit <= 0 {
		return true, nil
	}

	res, err := acquireScript.Run(ctx, l.client, []string{l.key(campaignID)}, limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency: acquire slot: %w", err)
	}
	return res == 1, nil
}

// Release frees a slot after the call attempt reaches a terminal state.
func (l *Limiter) Release(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID)}).Int(); err != nil {
		return fmt.Errorf("concurrency: release slot: %w", err)
	}
	return nil
}

func (l *Limiter) key(campaignID uuid.UUID) string {
	return "survey:campaign:" + campaignID.String() + ":active"
}
