// Command validation-worker consumes analysis-finding events, counts
// evidence toward each relationship's expected total, and enqueues
// exactly one reconciliation job once a relationship's evidence is
// complete (spec.md §4.4).
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/korrelate/triangulate/internal/bootstrap"
	"github.com/korrelate/triangulate/internal/cache"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/validation"
	"github.com/korrelate/triangulate/internal/workerloop"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	stack, err := bootstrap.New("validation-worker", *configPath)
	if err != nil {
		log.Fatalf("validation-worker: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manifest := cache.NewManifest(stack.CacheRDB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)
	worker := validation.NewWorker(manifest, q, stack.Logger)

	workerloop.Run(ctx, q, workerloop.Options{
		QueueName:    queue.QueueAnalysisFindings,
		TracerName:   "triangulate/validation",
		StageName:    "validation",
		PollInterval: time.Second,
	}, stack.Metrics, stack.Logger, worker.Process)
}
