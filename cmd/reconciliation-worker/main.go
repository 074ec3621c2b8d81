// Command reconciliation-worker folds every scope's evidence for a
// relationship hash into one final, weighted-confidence verdict
// (spec.md §4.5).
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/korrelate/triangulate/internal/bootstrap"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/reconciliation"
	"github.com/korrelate/triangulate/internal/store"
	"github.com/korrelate/triangulate/internal/workerloop"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	stack, err := bootstrap.New("reconciliation-worker", *configPath)
	if err != nil {
		log.Fatalf("reconciliation-worker: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	evidence := store.NewEvidenceRepository(stack.DB)
	relations := store.NewRelationshipRepository(stack.DB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)
	worker := reconciliation.NewWorker(
		evidence, relations,
		reconciliation.Weights(stack.Config.Reconciliation.Weights),
		stack.Config.Reconciliation.ConfidenceThreshold,
		stack.Logger,
	)

	workerloop.Run(ctx, q, workerloop.Options{
		QueueName:    queue.QueueReconciliation,
		TracerName:   "triangulate/reconciliation",
		StageName:    "reconciliation",
		PollInterval: time.Second,
	}, stack.Metrics, stack.Logger, func(ctx context.Context, job *queue.Job) error {
		var payload store.ReconcileJobPayload
		if err := job.DecodePayload(&payload); err != nil {
			return pipelineerrors.NewInvalidPayloadError("reconcile job payload did not decode").WithDetails(err.Error())
		}
		return worker.Process(ctx, payload.RunID, payload.RelationshipHash)
	})
}
