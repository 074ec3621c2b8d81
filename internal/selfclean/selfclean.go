// Package selfclean implements the self-cleaning reconciler of spec.md
// §4.7: two idempotent, independently schedulable phases that keep the
// files table (and the graph it feeds) in sync with what's actually on
// disk.
package selfclean

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/graphstore"
	"github.com/korrelate/triangulate/internal/store"
)

// Reconciler runs the mark and sweep phases.
type Reconciler struct {
	files *store.FilesRepository
	pois  *store.POIRepository
	graph graphstore.Store
	stat  func(path string) error
	logger *zap.Logger
}

func NewReconciler(files *store.FilesRepository, pois *store.POIRepository, graph graphstore.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		files: files, pois: pois, graph: graph, logger: logger,
		stat: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// Mark enumerates runID's active files and flags every one whose path no
// longer exists on disk as PENDING_DELETION. Never touches the graph
// store (spec.md §4.7 "Mark").
func (r *Reconciler) Mark(ctx context.Context, runID string) (int64, error) {
	active, err := r.files.ListActive(ctx, runID)
	if err != nil {
		return 0, err
	}

	stillPresent := make([]string, 0, len(active))
	for _, f := range active {
		if err := r.stat(f.Path); os.IsNotExist(err) {
			continue
		}
		stillPresent = append(stillPresent, f.ID)
	}
	if len(stillPresent) == len(active) {
		return 0, nil
	}

	n, err := r.files.MarkPendingDeletion(ctx, runID, stillPresent)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("self-clean mark phase flagged files", zap.String("run_id", runID), zap.Int64("flagged", n))
	return n, nil
}

// Sweep processes every PENDING_DELETION file for runID: remove its graph
// nodes first, and only on success delete its POIs and its own row
// (spec.md §4.7's "this transactional ordering is the invariant that
// prevents orphaned graph data" — a graph-store failure leaves the file
// PENDING_DELETION for the next sweep instead of silently losing the
// relational row while graph data survives).
func (r *Reconciler) Sweep(ctx context.Context, runID string) (swept int, err error) {
	pending, err := r.files.ListPendingDeletion(ctx, runID)
	if err != nil {
		return 0, err
	}

	for _, f := range pending {
		if err := r.sweepOne(ctx, f); err != nil {
			r.logger.Warn("self-clean sweep left file pending deletion",
				zap.String("file_id", f.ID), zap.String("path", f.Path), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

func (r *Reconciler) sweepOne(ctx context.Context, f store.File) error {
	pois, err := r.pois.ListByFile(ctx, f.ID)
	if err != nil {
		return err
	}

	if err := r.graph.Batch(ctx, func(s graphstore.Store) error {
		if err := s.RemoveNode(ctx, f.ID); err != nil {
			return err
		}
		for _, p := range pois {
			if err := s.RemoveNode(ctx, p.ID); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.pois.DeleteByFile(ctx, f.ID); err != nil {
		return err
	}
	return r.files.Delete(ctx, f.ID)
}
