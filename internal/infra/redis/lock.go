// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"ai-video-studio/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLocker hands out per-job loop leases so that at most one instance polls a job.
type RedisLocker struct {
	c   *Client
	ttl time.Duration
}

func NewLocker(c *Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{c: c, ttl: ttl}
}

func (l *RedisLocker) lockKey(jobID string) string { return l.c.key("loop", jobID) }

// TryLock returns domain.ErrLoopRunning when another owner holds the lease.
func (l *RedisLocker) TryLock(ctx context.Context, jobID string) (string, error) {
	token := uuid.NewString()
	ok, err := l.c.cli.SetNX(ctx, l.lockKey(jobID), token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLoopRunning
	}
	return token, nil
}

var luaRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Refresh extends the lease; it fails with domain.ErrLoopRunning if the lease was lost.
func (l *RedisLocker) Refresh(ctx context.Context, jobID, token string) error {
	n, err := luaRefresh.Run(ctx, l.c.cli, []string{l.lockKey(jobID)}, token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if n == 0 {
		return domain.ErrLoopRunning
	}
	return nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, jobID, token string) error {
	_, err := luaUnlock.Run(ctx, l.c.cli, []string{l.lockKey(jobID)}, token).Result()
	return err
}
