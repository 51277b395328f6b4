package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter is a fixed-window counter shared by every instance.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// luaIncrWindow counts a hit and makes sure the window key carries a TTL.
// A key left without one is repaired on the next hit.
var luaIncrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := luaIncrWindow.Run(ctx, r.client.cli, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

func (r *RateLimiter) SubmitKey(clientID string) string {
	return r.client.key("rate_limit", "submit", clientID)
}
