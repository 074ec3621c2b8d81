// Command graph-builder ingests one run's VALIDATED relationships into
// the graph store once every analysis job for that run has completed
// (spec.md §4.6), then finalizes the run's terminal status
// and notifies the operator if configured.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/bootstrap"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/graphbuilder"
	"github.com/korrelate/triangulate/internal/graphstore"
	"github.com/korrelate/triangulate/internal/notify"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
	"github.com/korrelate/triangulate/internal/workerloop"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	stack, err := bootstrap.New("graph-builder", *configPath)
	if err != nil {
		log.Fatalf("graph-builder: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relations := store.NewRelationshipRepository(stack.DB)
	pois := store.NewPOIRepository(stack.DB)
	runs := store.NewRunRepository(stack.DB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)

	// The in-memory store is the default: a real Cypher-speaking backend
	// is an out-of-scope external collaborator the operator wires in
	// instead (spec.md §1 Non-goals); this command only needs something
	// that satisfies graphstore.Store.
	graph := graphstore.NewMemStore()
	worker := graphbuilder.NewWorker(relations, pois, graph, stack.Config.GraphBuild.IngestBatchSize, stack.Logger)
	notifier := notify.NewNotifier(stack.Config.Notify.SlackWebhookURL, stack.Config.Notify.SlackChannel, stack.Logger)

	workerloop.Run(ctx, q, workerloop.Options{
		QueueName:    queue.QueueGraphBuild,
		TracerName:   "triangulate/graph-builder",
		StageName:    "graph-build",
		PollInterval: time.Second,
	}, stack.Metrics, stack.Logger, func(ctx context.Context, job *queue.Job) error {
		var payload store.ReconcileJobPayload
		if err := job.DecodePayload(&payload); err != nil {
			return pipelineerrors.NewInvalidPayloadError("graph-build job payload did not decode").WithDetails(err.Error())
		}

		ingested, err := worker.Process(ctx, payload.RunID)
		if err != nil {
			return err
		}
		stack.Metrics.GraphNodesMerged.Add(0) // adds nothing: worker.Process reports only the relationship count, not per-node/edge counts
		stack.Logger.Info("graph build complete", zap.String("run_id", payload.RunID), zap.Int("ingested", ingested))

		return finalizeRun(ctx, runs, notifier, stack.Logger, payload.RunID)
	})
}

// finalizeRun reads the run's final counters, marks it completed or
// completed-with-dead-letters, and notifies the operator — the graph
// build job only becomes runnable once every analysis job for the run
// has completed, making this the correct place to close
// out the run (spec.md §7's terminal run states).
func finalizeRun(ctx context.Context, runs *store.RunRepository, notifier *notify.Notifier, logger *zap.Logger, runID string) error {
	run, err := runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	status := store.RunStatusCompleted
	if run.DeadLetterJobs > 0 {
		status = store.RunStatusCompletedWithDeadLetters
	}
	if err := runs.Finalize(ctx, runID, status); err != nil {
		return err
	}
	run.Status = status

	if err := notifier.NotifyTerminal(ctx, *run); err != nil {
		logger.Warn("failed to notify operator of run completion", zap.String("run_id", runID), zap.Error(err))
	}
	return nil
}
