// Command outbox-publisher runs the transactional outbox sidecar: poll
// PENDING rows and enqueue each as an analysis-finding job, so a commit
// to the evidence table and the downstream job it must trigger can never
// diverge (spec.md §4.3).
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
	"github.com/korrelate/triangulate/internal/outbox"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	stack, err := bootstrap.New("outbox-publisher", *configPath)
	if err != nil {
		log.Fatalf("outbox-publisher: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo := store.NewOutboxRepository(stack.DB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)
	publisher := outbox.NewPublisher(repo, q, stack.Config.Outbox.BatchSize, stack.Config.Outbox.MaxPublishAttempts, stack.Logger)

	interval := time.Duration(stack.Config.Outbox.PollIntervalMSRaw) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stack.Logger.Info("outbox publisher starting", zap.Duration("poll_interval", interval))
	for {
		select {
		case <-ctx.Done():
			stack.Logger.Info("outbox publisher stopping")
			return
		case <-ticker.C:
		}

		published, err := publisher.Tick(ctx)
		if err != nil {
			stack.Logger.Error("outbox publisher tick failed", zap.Error(err))
			continue
		}
		if published > 0 {
			stack.Metrics.OutboxPublished.Add(float64(published))
			stack.Logger.Debug("outbox tick published rows", zap.Int("count", published))
		}
	}
}
