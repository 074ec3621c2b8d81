// Package workerloop implements the poll-dequeue-process-ack shape every
// cmd/*-worker binary shares: sit on a ticker, pull one job off a named
// queue, hand it to a Handler, then Ack or Fail it, instrumenting every
// attempt with the same span/metric pair regardless of which stage is
// running. Grounded on the ticker + select-on-ctx.Done shutdown idiom
// (internal/queue's own redelivery loop already uses the same
// k8s.io/apimachinery/pkg/util/wait primitives for backoff).
package workerloop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/telemetry/metrics"
	"github.com/korrelate/triangulate/internal/telemetry/tracing"
)

// Handler processes one dequeued job. An error causes the job to be
// Fail()'d (redelivered with backoff or dead-lettered, per
// internal/queue's retry policy); success Ack()'s it.
type Handler func(ctx context.Context, job *queue.Job) error

// Options configures one worker loop. OnCompleted/OnDeadLettered are
// optional hooks for a stage that also tracks a run-level counter (the
// analysis workers increment internal/store's RunRepository counters;
// every other stage leaves both nil).
type Options struct {
	QueueName     string
	TracerName    string
	StageName     string
	PollInterval  time.Duration
	OnCompleted   func(ctx context.Context, job *queue.Job)
	OnDeadLettered func(ctx context.Context, job *queue.Job)
}

// Run polls QueueName until ctx is cancelled, dispatching every
// delivered job to handle. It never returns an error on its own account:
// dequeue/transport failures are logged and retried on the next tick,
// since a Redis blip shouldn't crash the whole worker process.
func Run(ctx context.Context, q *queue.Queue, opts Options, m *metrics.Metrics, logger *zap.Logger, handle Handler) {
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := q.Dequeue(ctx, opts.QueueName)
		if err != nil {
			logger.Error("dequeue failed", zap.String("queue", opts.QueueName), zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		processOne(ctx, q, opts, m, logger, job, handle)
	}
}

func processOne(ctx context.Context, q *queue.Queue, opts Options, m *metrics.Metrics, logger *zap.Logger, job *queue.Job, handle Handler) {
	jobLogger := logger.With(
		zap.String("run_id", job.RunID), zap.String("job_id", job.ID), zap.String("job_type", string(job.Type)),
	)

	spanCtx, span := tracing.StartJobSpan(ctx, opts.TracerName, opts.StageName, job.RunID, job.ID, string(job.Type))
	start := time.Now()
	err := handle(spanCtx, job)
	duration := time.Since(start)
	span.End()

	m.JobDuration.WithLabelValues(string(job.Type)).Observe(duration.Seconds())

	if err != nil {
		jobLogger.Warn("job processing failed", zap.Error(err))
		if ferr := q.Fail(ctx, job, err); ferr != nil {
			jobLogger.Error("failed to record job failure", zap.Error(ferr))
			return
		}
		refreshed, gerr := q.Get(ctx, job.ID)
		if gerr == nil && refreshed.Status == queue.StatusDeadLetter {
			m.JobDeadLettered.WithLabelValues(string(job.Type)).Inc()
			if opts.OnDeadLettered != nil {
				opts.OnDeadLettered(ctx, refreshed)
			}
		} else {
			m.JobRetries.WithLabelValues(string(job.Type)).Inc()
		}
		m.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		return
	}

	if err := q.Ack(ctx, job); err != nil {
		jobLogger.Error("failed to ack job", zap.Error(err))
		return
	}
	m.JobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
	if opts.OnCompleted != nil {
		opts.OnCompleted(ctx, job)
	}
}
