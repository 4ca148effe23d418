package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/models"
)

// SchedulerInfo describes one recurring-job definition.
type SchedulerInfo struct {
	Key     string
	Pattern string
}

// Job is a fired job instance waiting to be processed.
type Job struct {
	SchedulerKey string                 `json:"schedulerKey"`
	FiredAt      time.Time              `json:"firedAt"`
	Data         models.WeatherEmailJob `json:"data"`
}

const (
	fieldPattern = "pattern"
	fieldPayload = "payload"
)

// RedisBackend stores recurring-job definitions and fired job instances in
// Redis, keeping the layout of the original weather-email queue: a sorted set
// of scheduler keys ordered by next fire time, one hash per definition, and a
// list of pending job instances.
type RedisBackend struct {
	client    *redis.Client
	name      string
	opTimeout time.Duration
	log       zerolog.Logger
}

func NewRedisBackend(
	client *redis.Client,
	name string,
	opTimeout time.Duration,
	logger zerolog.Logger,
) *RedisBackend {
	logger = logger.With().Str("component", "RedisBackend").Str("queue", name).Logger()
	return &RedisBackend{client: client, name: name, opTimeout: opTimeout, log: logger}
}

func (b *RedisBackend) indexKey() string   { return b.name + ":schedulers" }
func (b *RedisBackend) pendingKey() string { return b.name + ":pending" }

func (b *RedisBackend) schedulerKey(key string) string {
	return b.name + ":scheduler:" + key
}

func (b *RedisBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.opTimeout)
}

// wrapErr classifies a redis error: connectivity faults and timeouts become
// ErrBackendUnavailable, anything else is returned as-is for the caller to map.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("queue %s: %w: %w", op, models.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("queue %s: %w", op, err)
}

// UpsertScheduler creates or replaces the recurring-job definition under key.
// Re-invoking with identical arguments leaves a single definition in place and
// only refreshes the payload snapshot.
func (b *RedisBackend) UpsertScheduler(
	ctx context.Context,
	key, pattern string,
	payload models.WeatherEmailJob,
) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: scheduler key is empty", models.ErrValidation)
	}
	schedule, err := cron.ParseStandard(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: invalid cron pattern %q: %w", models.ErrValidation, pattern, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	next := schedule.Next(time.Now().UTC())
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.schedulerKey(key), fieldPattern, pattern, fieldPayload, data)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(next.Unix()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Str("key", key).Msg("failed to upsert scheduler")
		return "", wrapErr("upsert", err)
	}

	b.log.Info().
		Str("key", key).
		Str("pattern", pattern).
		Time("next_run", next).
		Msg("scheduler upserted")
	return key, nil
}

// RemoveScheduler deletes the definition under key. Removing a key that does
// not exist is not an error and reports false.
func (b *RedisBackend) RemoveScheduler(ctx context.Context, key string) (bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	pipe := b.client.TxPipeline()
	zrem := pipe.ZRem(ctx, b.indexKey(), key)
	del := pipe.Del(ctx, b.schedulerKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Str("key", key).Msg("failed to remove scheduler")
		return false, wrapErr("remove", err)
	}

	removed := zrem.Val() > 0 || del.Val() > 0
	b.log.Info().Str("key", key).Bool("removed", removed).Msg("scheduler removal finished")
	return removed, nil
}

// ListSchedulers returns every recurring-job definition, snapshot-consistent
// with the index at call time.
func (b *RedisBackend) ListSchedulers(ctx context.Context) ([]SchedulerInfo, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	keys, err := b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("list", err)
	}

	infos := make([]SchedulerInfo, 0, len(keys))
	for _, key := range keys {
		pattern, err := b.client.HGet(ctx, b.schedulerKey(key), fieldPattern).Result()
		if errors.Is(err, redis.Nil) {
			// index entry without a hash: removed concurrently, skip
			continue
		}
		if err != nil {
			return nil, wrapErr("list", err)
		}
		infos = append(infos, SchedulerInfo{Key: key, Pattern: pattern})
	}
	return infos, nil
}

// DrainPending discards queued-but-not-yet-fired job instances. Recurring
// definitions are untouched.
func (b *RedisBackend) DrainPending(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.client.Del(ctx, b.pendingKey()).Err(); err != nil {
		return wrapErr("drain", err)
	}
	b.log.Info().Msg("pending jobs drained")
	return nil
}

// DueSchedulers returns the keys whose next fire time is at or before now.
func (b *RedisBackend) DueSchedulers(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	keys, err := b.client.ZRangeByScore(ctx, b.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, wrapErr("due", err)
	}
	return keys, nil
}

// FireScheduler pushes a job instance carrying the definition's payload
// snapshot and advances its next fire time along its cron pattern.
func (b *RedisBackend) FireScheduler(ctx context.Context, key string, now time.Time) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	fields, err := b.client.HGetAll(ctx, b.schedulerKey(key)).Result()
	if err != nil {
		return wrapErr("fire", err)
	}
	if len(fields) == 0 {
		// definition vanished between the due scan and now; drop the index entry
		if err := b.client.ZRem(ctx, b.indexKey(), key).Err(); err != nil {
			return wrapErr("fire", err)
		}
		return nil
	}

	schedule, err := cron.ParseStandard(fields[fieldPattern])
	if err != nil {
		return fmt.Errorf("stored pattern for %s is invalid: %w", key, err)
	}

	var data models.WeatherEmailJob
	if err := json.Unmarshal([]byte(fields[fieldPayload]), &data); err != nil {
		return fmt.Errorf("stored payload for %s is invalid: %w", key, err)
	}

	job, err := json.Marshal(Job{SchedulerKey: key, FiredAt: now, Data: data})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	next := schedule.Next(now.UTC())
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, b.pendingKey(), job)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(next.Unix()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("fire", err)
	}

	b.log.Debug().Str("key", key).Time("next_run", next).Msg("job instance fired")
	return nil
}

// PopJob blocks up to timeout for the next pending job instance.
// Reports ok=false when the queue stayed empty.
func (b *RedisBackend) PopJob(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	res, err := b.client.BRPop(ctx, timeout, b.pendingKey()).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, wrapErr("pop", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, true, nil
}

// RequeueJob puts a job instance back on the pending list after a failed
// processing attempt, preserving at-least-once delivery.
func (b *RedisBackend) RequeueJob(ctx context.Context, job Job) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := b.client.LPush(ctx, b.pendingKey(), data).Err(); err != nil {
		return wrapErr("requeue", err)
	}
	return nil
}
