// Command cleanup-reconciler runs the self-cleaning mark-and-sweep pass
// for a completed run (spec.md §4.7): mark flags the run's active files
// whose path no longer exists on disk as pending deletion, sweep removes
// every file pending deletion (there is no grace period) and retracts
// their graph nodes.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/bootstrap"
	"github.com/korrelate/triangulate/internal/graphstore"
	"github.com/korrelate/triangulate/internal/selfclean"
	"github.com/korrelate/triangulate/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	runID := flag.String("run-id", "", "run ID to reconcile")
	mark := flag.Bool("mark", false, "mark this run's files whose path no longer exists on disk as pending deletion")
	sweep := flag.Bool("sweep", false, "sweep every file pending deletion")
	flag.Parse()

	if *runID == "" {
		log.Fatal("cleanup-reconciler: -run-id is required")
	}
	if !*mark && !*sweep {
		log.Fatal("cleanup-reconciler: at least one of -mark or -sweep is required")
	}

	stack, err := bootstrap.New("cleanup-reconciler", *configPath)
	if err != nil {
		log.Fatalf("cleanup-reconciler: %v", err)
	}
	defer stack.Close()

	files := store.NewFilesRepository(stack.DB)
	pois := store.NewPOIRepository(stack.DB)
	graph := graphstore.NewMemStore()
	reconciler := selfclean.NewReconciler(files, pois, graph, stack.Logger)

	ctx := context.Background()

	if *mark {
		marked, err := reconciler.Mark(ctx, *runID)
		if err != nil {
			stack.Logger.Fatal("mark phase failed", zap.String("run_id", *runID), zap.Error(err))
		}
		stack.Metrics.FilesMarkedForDeletion.Add(float64(marked))
		stack.Logger.Info("mark phase complete", zap.String("run_id", *runID), zap.Int64("marked", marked))
	}

	if *sweep {
		swept, err := reconciler.Sweep(ctx, *runID)
		if err != nil {
			stack.Logger.Fatal("sweep phase failed", zap.String("run_id", *runID), zap.Error(err))
		}
		stack.Metrics.FilesSwept.Add(float64(swept))
		stack.Logger.Info("sweep phase complete", zap.String("run_id", *runID), zap.Int("swept", swept))
	}
}
