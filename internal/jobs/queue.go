// Package jobs is the background work layer: a Redis-streams job queue with
// at-least-once delivery, consumer groups, bounded retries, and a worker pool
// dispatching to named handlers.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	cacheredis "github.com/openfloor/nftindex/internal/cache/redis"
	"github.com/openfloor/nftindex/internal/domain"
)

const (
	jobStream    = "jobs"
	delayedZSet  = "jobs:delayed"
	dedupePrefix = "jobs:dedupe:"

	// streamMaxLen caps the stream via XADD MAXLEN ~.
	streamMaxLen int64 = 100000
	// dedupeTTL bounds how long an idempotency key suppresses re-enqueues.
	dedupeTTL = 24 * time.Hour
)

// Queue implements domain.JobQueue on Redis streams. Producer-side dedupe on
// the idempotency key keeps hot paths from flooding the stream with repeats;
// consumers still dedupe for full at-least-once safety.
type Queue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewQueue creates a Queue on the shared Redis client.
func NewQueue(c *cacheredis.Client, logger *slog.Logger) *Queue {
	return &Queue{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "jobs")),
	}
}

// Enqueue submits one job. A non-empty key deduplicates: a second enqueue
// with the same key inside the dedupe window is dropped silently. Delayed
// jobs park in a sorted set until due.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, key string, opts domain.EnqueueOpts) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: marshal payload for %s: %w", name, err)
	}

	if key != "" {
		fresh, err := q.rdb.SetNX(ctx, dedupePrefix+key, 1, dedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("jobs: dedupe %s: %w", key, err)
		}
		if !fresh {
			return nil
		}
	}

	job := domain.Job{
		ID:             uuid.New().String(),
		Name:           name,
		Payload:        body,
		IdempotencyKey: key,
		EnqueuedAt:     time.Now().UTC(),
	}

	if opts.Delay > 0 {
		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("jobs: marshal job %s: %w", job.ID, err)
		}
		due := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, delayedZSet, redis.Z{Score: due, Member: raw}).Err(); err != nil {
			return fmt.Errorf("jobs: delay %s: %w", name, err)
		}
		return nil
	}

	return q.append(ctx, job)
}

func (q *Queue) append(ctx context.Context, job domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: marshal job %s: %w", job.ID, err)
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"job": raw},
	}).Err()
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", job.Name, err)
	}
	return nil
}

// pumpDelayed moves due delayed jobs into the stream. Called by workers on
// each poll cycle; races between workers are harmless because ZRem settles
// who owns each member.
func (q *Queue) pumpDelayed(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, delayedZSet, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, delayedZSet, m).Result()
		if err != nil || removed == 0 {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			q.logger.Error("dropping malformed delayed job", slog.String("error", err.Error()))
			continue
		}
		if err := q.append(ctx, job); err != nil {
			q.logger.Error("requeue delayed job failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()))
		}
	}
}

// Compile-time interface check.
var _ domain.JobQueue = (*Queue)(nil)
