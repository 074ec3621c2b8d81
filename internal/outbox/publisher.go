// Package outbox implements the publisher sidecar of spec.md §4.3: it
// moves PENDING outbox rows to the job queue and marks them PUBLISHED,
// using each row's id as the queue's idempotency key.
package outbox

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
)

// Publisher is the sidecar that drains PENDING outbox rows into the
// analysis-findings queue.
type Publisher struct {
	repo        *store.OutboxRepository
	q           *queue.Queue
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
}

func NewPublisher(repo *store.OutboxRepository, q *queue.Queue, batchSize, maxAttempts int, logger *zap.Logger) *Publisher {
	return &Publisher{repo: repo, q: q, batchSize: batchSize, maxAttempts: maxAttempts, logger: logger}
}

// Tick runs one polling cycle: fetch up to batchSize PENDING rows and
// publish each, in id order (spec.md §4.3/§5 ordering guarantee 1).
func (p *Publisher) Tick(ctx context.Context) (published int, err error) {
	rows, err := p.repo.PollPending(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		if err := p.publishOne(ctx, row); err != nil {
			p.logger.Warn("failed to publish outbox row",
				zap.Int64("outbox_id", row.ID), zap.Error(err))
			if markErr := p.repo.MarkFailed(ctx, row.ID, p.maxAttempts); markErr != nil {
				return published, markErr
			}
			continue
		}
		published++
	}
	return published, nil
}

func (p *Publisher) publishOne(ctx context.Context, row store.OutboxRow) error {
	var finding store.AnalysisFindingPayload
	if err := json.Unmarshal(row.Payload, &finding); err != nil {
		return pipelineerrors.NewInvalidPayloadError("outbox row payload did not match analysis-finding shape")
	}

	_, err := p.q.Enqueue(ctx, queue.NewJobOptions{
		// The outbox row id doubles as the job id: Publisher redelivery
		// (crash between Enqueue and MarkPublished) must not duplicate the
		// downstream event, and Queue.Enqueue treats a repeated id as
		// idempotent.
		ID:      idempotencyKeyFor(row.ID),
		RunID:   finding.RunID,
		Queue:   queue.QueueAnalysisFindings,
		Type:    queue.JobTypeAnalysisFinding,
		Payload: finding,
	})
	if err != nil {
		return err
	}

	return p.repo.MarkPublished(ctx, row.ID)
}

func idempotencyKeyFor(outboxID int64) string {
	return "outbox:" + itoa(outboxID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
