package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ai-video-studio/internal/domain"
	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/domain/ports/repository"
	"ai-video-studio/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
)

var _ repository.JobStore = (*JobStore)(nil)

const maxUpdateRetries = 64

// JobStore keeps each job as a JSON value under <prefix>:job:<id>.
// Non-terminal ids are indexed in a set, terminal ids in a sorted set scored by
// UpdatedAt so retention can be enforced without SCAN.
type JobStore struct {
	c         *Client
	retention time.Duration
}

// NewJobStore sets a TTL of retention on terminal records; zero disables the TTL
// and leaves cleanup to DeleteTerminalBefore.
func NewJobStore(c *Client, retention time.Duration) *JobStore {
	return &JobStore{c: c, retention: retention}
}

func (s *JobStore) jobKey(id string) string { return s.c.key("job", id) }
func (s *JobStore) activeKey() string       { return s.c.key("jobs", "active") }
func (s *JobStore) terminalKey() string     { return s.c.key("jobs", "terminal") }

var luaCreate = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 1 then
	redis.call("SADD", KEYS[2], ARGV[2])
	return 1
end
return 0`)

func (s *JobStore) Create(ctx context.Context, job *model.GenerationJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	n, err := luaCreate.Run(ctx, s.c.cli, []string{s.jobKey(job.ID), s.activeKey()}, data, job.ID).Int64()
	if err != nil {
		metrics.IncStoreOp("redis", "create", "error")
		return err
	}
	if n == 0 {
		metrics.IncStoreOp("redis", "create", "conflict")
		return domain.ErrAlreadyExists
	}
	metrics.IncStoreOp("redis", "create", "ok")
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	data, err := s.c.cli.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

// Update runs fn inside WATCH/MULTI and retries when another writer raced it.
func (s *JobStore) Update(ctx context.Context, id string, fn repository.UpdateFunc) (*model.GenerationJob, error) {
	key := s.jobKey(id)
	for i := 0; i < maxUpdateRetries; i++ {
		var out *model.GenerationJob
		err := s.c.cli.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			job, err := decodeJob(data)
			if err != nil {
				return err
			}
			if err := fn(job); err != nil {
				return err
			}
			b, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("marshal job: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if job.IsTerminal() {
					pipe.Set(ctx, key, b, s.retention)
					pipe.SRem(ctx, s.activeKey(), job.ID)
					pipe.ZAdd(ctx, s.terminalKey(), &redis.Z{Score: float64(job.UpdatedAt.UnixMilli()), Member: job.ID})
				} else {
					pipe.Set(ctx, key, b, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}
			out = job
			return nil
		}, key)

		switch {
		case err == nil:
			metrics.IncStoreOp("redis", "update", "ok")
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			metrics.IncStoreOp("redis", "update", "conflict")
			continue
		default:
			metrics.IncStoreOp("redis", "update", "aborted")
			return nil, err
		}
	}
	return nil, fmt.Errorf("update job %s: too many concurrent writers: %w", id, domain.ErrInternal)
}

func (s *JobStore) ListActive(ctx context.Context, limit int) ([]*model.GenerationJob, error) {
	ids, err := s.c.cli.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	vals, err := s.c.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.GenerationJob, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(str))
		if err != nil {
			return nil, err
		}
		if !job.IsTerminal() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.c.cli.ZRangeByScore(ctx, s.terminalKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
		members[i] = id
	}
	// keys already expired by TTL are simply not counted
	n, err := s.c.cli.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	if err := s.c.cli.ZRem(ctx, s.terminalKey(), members...).Err(); err != nil {
		return int(n), err
	}
	return int(n), nil
}

func decodeJob(data []byte) (*model.GenerationJob, error) {
	var job model.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
