// Command operator-api serves the operator-facing HTTP surface (spec.md
// §7): starting a run, checking its status, and listing its dead-lettered
// jobs. Packaged as its own binary so the pipeline's workers can scale
// independently of the surface operators poll.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/api"
	"github.com/korrelate/triangulate/internal/bootstrap"
	"github.com/korrelate/triangulate/internal/cache"
	"github.com/korrelate/triangulate/internal/logging"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/scout"
	"github.com/korrelate/triangulate/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	stack, err := bootstrap.New("operator-api", *configPath)
	if err != nil {
		log.Fatalf("operator-api: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	files := store.NewFilesRepository(stack.DB)
	runs := store.NewRunRepository(stack.DB)
	manifest := cache.NewManifest(stack.CacheRDB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)
	lease := cache.NewLease(stack.CacheRDB, logging.AsLogr(stack.Logger))

	starter := scout.New(files, runs, manifest, q, lease, scout.Options{
		IncludeGlobs:       stack.Config.Scout.IncludeGlobs,
		ExcludeGlobs:       stack.Config.Scout.ExcludeGlobs,
		MaxConcurrentReads: stack.Config.Scout.MaxConcurrentReads,
		LeaseTTL:           time.Duration(stack.Config.Lease.LeaseMS) * time.Millisecond,
		LeaseRenewal:       time.Duration(stack.Config.Lease.RenewalMS) * time.Millisecond,
	}, stack.Logger)

	server := api.NewServer(runs, q, starter, stack.Metrics, stack.Logger)
	httpServer := &http.Server{
		Addr:    ":" + stack.Config.API.Port,
		Handler: server.NewRouter(stack.Config.API.AllowedOrigins),
	}

	go func() {
		stack.Logger.Info("operator-api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stack.Logger.Fatal("operator-api server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stack.Logger.Info("operator-api shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		stack.Logger.Error("operator-api graceful shutdown failed", zap.Error(err))
	}
}
