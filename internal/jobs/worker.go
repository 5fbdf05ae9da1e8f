package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	cacheredis "github.com/openfloor/nftindex/internal/cache/redis"
	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/metrics"
)

const (
	consumerGroup = "nftindex-workers"
	readBlock     = 5 * time.Second
	readCount     = 32
)

// Handler processes one job. Returning an error triggers a retry until the
// attempt budget is spent.
type Handler func(ctx context.Context, job domain.Job) error

// Worker consumes the job stream through a consumer group and dispatches to
// named handlers.
type Worker struct {
	queue       *Queue
	rdb         *redis.Client
	consumer    string
	handlers    map[string]Handler
	maxAttempts int
	metrics     *metrics.Set
	logger      *slog.Logger
}

// NewWorker creates a Worker. maxAttempts bounds retries per job; 0 means 3.
func NewWorker(c *cacheredis.Client, queue *Queue, handlers map[string]Handler, maxAttempts int, m *metrics.Set, logger *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		queue:       queue,
		rdb:         c.Underlying(),
		consumer:    "worker-" + uuid.New().String()[:8],
		handlers:    handlers,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger.With(slog.String("component", "worker")),
	}
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("worker started", slog.String("consumer", w.consumer))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.queue.pumpDelayed(ctx)

		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: w.consumer,
			Streams:  []string{jobStream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			w.logger.Error("read group failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.process(ctx, msg)
			}
		}
	}
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, jobStream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("jobs: create consumer group: %w", err)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, msg redis.XMessage) {
	defer w.ack(ctx, msg.ID)

	raw, ok := msg.Values["job"].(string)
	if !ok {
		w.logger.Error("malformed stream entry", slog.String("id", msg.ID))
		return
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.logger.Error("malformed job payload", slog.String("id", msg.ID), slog.String("error", err.Error()))
		return
	}

	handler, ok := w.handlers[job.Name]
	if !ok {
		w.logger.Warn("no handler for job", slog.String("job", job.Name))
		w.metrics.JobsProcessed.WithLabelValues(job.Name, "unhandled").Inc()
		return
	}

	if err := handler(ctx, job); err != nil {
		w.retry(ctx, job, err)
		return
	}
	w.metrics.JobsProcessed.WithLabelValues(job.Name, "ok").Inc()
}

// retry re-appends the job with an incremented attempt counter, or drops it
// to the log once the budget is spent. The failed delivery is acked either
// way; redelivery happens through the re-append, not the pending list.
func (w *Worker) retry(ctx context.Context, job domain.Job, cause error) {
	job.Attempt++
	if job.Attempt >= w.maxAttempts {
		w.metrics.JobsProcessed.WithLabelValues(job.Name, "dead").Inc()
		w.logger.Error("job exhausted retries, dropping",
			slog.String("job", job.Name),
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempt),
			slog.String("error", cause.Error()))
		return
	}

	w.metrics.JobsProcessed.WithLabelValues(job.Name, "retry").Inc()
	w.logger.Warn("job failed, retrying",
		slog.String("job", job.Name),
		slog.Int("attempt", job.Attempt),
		slog.String("error", cause.Error()))
	if err := w.queue.append(ctx, job); err != nil {
		w.logger.Error("requeue failed, job lost",
			slog.String("job", job.Name),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.rdb.XAck(ctx, jobStream, consumerGroup, id).Err(); err != nil {
		w.logger.Error("ack failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}
