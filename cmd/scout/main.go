// Command scout runs one filesystem walk per invocation: point it at a
// root path and it walks, seeds the cache manifest, and fans out
// analysis jobs for the other worker processes to pick up (spec.md
// §4.1).
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/bootstrap"
	"github.com/korrelate/triangulate/internal/cache"
	"github.com/korrelate/triangulate/internal/logging"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/scout"
	"github.com/korrelate/triangulate/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	rootPath := flag.String("root", "", "root path to walk")
	flag.Parse()

	if *rootPath == "" {
		log.Fatal("scout: -root is required")
	}

	stack, err := bootstrap.New("scout", *configPath)
	if err != nil {
		log.Fatalf("scout: %v", err)
	}
	defer stack.Close()

	files := store.NewFilesRepository(stack.DB)
	runs := store.NewRunRepository(stack.DB)
	manifest := cache.NewManifest(stack.CacheRDB)
	q := queue.New(stack.QueueRDB, stack.Config.Queue.MaxJobRetries, stack.Config.Queue.JobBackoff, stack.Config.Queue.JobTimeout)
	lease := cache.NewLease(stack.CacheRDB, logging.AsLogr(stack.Logger))

	s := scout.New(files, runs, manifest, q, lease, scout.Options{
		IncludeGlobs:       stack.Config.Scout.IncludeGlobs,
		ExcludeGlobs:       stack.Config.Scout.ExcludeGlobs,
		MaxConcurrentReads: stack.Config.Scout.MaxConcurrentReads,
		LeaseTTL:           time.Duration(stack.Config.Lease.LeaseMS) * time.Millisecond,
		LeaseRenewal:       time.Duration(stack.Config.Lease.RenewalMS) * time.Millisecond,
	}, stack.Logger)

	runID, err := s.Start(context.Background(), *rootPath)
	if err != nil {
		stack.Logger.Fatal("scout walk failed", zap.Error(err))
	}
	stack.Logger.Info("scout walk complete", zap.String("run_id", runID))
}
