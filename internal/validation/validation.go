// Package validation implements the validation worker of spec.md §4.4: it
// consumes analysis-finding events, atomically counts evidence toward
// each relationship's expected total, and enqueues reconciliation exactly
// once a relationship's evidence is complete.
package validation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/cache"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
)

// Worker validates one analysis-finding event per Process call.
type Worker struct {
	manifest *cache.Manifest
	q        *queue.Queue
	logger   *zap.Logger
}

func NewWorker(manifest *cache.Manifest, q *queue.Queue, logger *zap.Logger) *Worker {
	return &Worker{manifest: manifest, q: q, logger: logger}
}

// Process decodes job's payload, increments the relationship's evidence
// counter, and — on the call that brings received up to expected —
// enqueues exactly one reconcile-relationship job, guarded by the
// manifest's single-enqueue set so redelivery of the completing event
// can never double-enqueue (spec.md §4.4 steps 2-5, §5 ordering
// guarantee 3).
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	var finding store.AnalysisFindingPayload
	if err := job.DecodePayload(&finding); err != nil {
		return pipelineerrors.NewInvalidPayloadError("analysis-finding payload did not decode").WithDetails(err.Error())
	}
	if finding.RunID == "" || finding.RelationshipHash == "" {
		return pipelineerrors.NewInvalidPayloadError("analysis-finding payload missing run_id or relationship_hash")
	}

	received, expected, err := w.manifest.IncrementAndCheck(ctx, finding.RunID, finding.RelationshipHash)
	if err != nil {
		return err
	}
	if expected == -1 {
		// Scout/analysis should always seed an expectation before
		// evidence can exist for a hash (spec.md §7 fatal contract).
		return pipelineerrors.NewFatalContractError(
			fmt.Sprintf("no expectation seeded for relationship hash %q (run %q)", finding.RelationshipHash, finding.RunID))
	}

	if received > expected {
		w.logger.Error("received more evidence than expected for relationship",
			zap.String("run_id", finding.RunID),
			zap.String("relationship_hash", finding.RelationshipHash),
			zap.Int("received", received), zap.Int("expected", expected))
		return nil
	}

	if received < expected {
		return nil
	}

	first, err := w.manifest.MarkReconciled(ctx, finding.RunID, finding.RelationshipHash)
	if err != nil {
		return err
	}
	if !first {
		// Another delivery of this same completing event already
		// enqueued reconciliation.
		return nil
	}

	_, err = w.q.Enqueue(ctx, queue.NewJobOptions{
		RunID:   finding.RunID,
		Queue:   queue.QueueReconciliation,
		Type:    queue.JobTypeReconcile,
		Payload: store.ReconcileJobPayload{RunID: finding.RunID, RelationshipHash: finding.RelationshipHash},
	})
	return err
}
