package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Trims the window, then admits the event only when there is room. Rejected
// events are not recorded, so a flood does not extend its own lockout.
var slidingScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
local max = tonumber(ARGV[4])
if count < max then
  redis.call("ZADD", KEYS[1], ARGV[2], ARGV[3])
  count = count + 1
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return {1, count}
end
return {0, count}`)

// SlidingWindow limits events per key over a rolling window using a sorted
// set per key. It suits low-volume, bursty callers such as gateway webhooks.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	now    func() time.Time
}

// Allow records one event for key when it fits under max.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	clock := l.now
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	reset := now.Add(window)
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, reset, nil
	}

	cutoff := now.Add(-window).UnixNano()
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
	res, err := slidingScript.Run(ctx, l.Client,
		[]string{l.Prefix + key},
		cutoff, now.UnixNano(), member, max, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, reset, err
	}

	allowed := res[0] == 1
	remaining := max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, reset, nil
}
