// Package graphbuilder implements the graph-build job of spec.md §4.6:
// stream every VALIDATED relationship for a run into the graph store in
// batches, each batch applied atomically. The job's queue dependency
// (every analysis job registered as its child) already guarantees this only runs
// once every scope's evidence has been validated or rejected — the
// worker here assumes that precondition and only needs to walk the
// already-reconciled relationships table.
package graphbuilder

import (
	"context"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/graphstore"
	"github.com/korrelate/triangulate/internal/store"
)

// Worker ingests one run's VALIDATED relationships into a graph store.
type Worker struct {
	relations *store.RelationshipRepository
	pois      *store.POIRepository
	graph     graphstore.Store
	batchSize int
	logger    *zap.Logger
}

func NewWorker(relations *store.RelationshipRepository, pois *store.POIRepository, graph graphstore.Store, batchSize int, logger *zap.Logger) *Worker {
	return &Worker{relations: relations, pois: pois, graph: graph, batchSize: batchSize, logger: logger}
}

// Process pages through runID's VALIDATED relationships in ascending
// relationship_hash order, merging each batch's nodes and edges into the
// graph store inside one Batch call (spec.md §4.6 step 2's "a batch of
// relationships is applied atomically or not at all").
func (w *Worker) Process(ctx context.Context, runID string) (ingested int, err error) {
	cursor := ""
	for {
		batch, err := w.relations.ListValidatedSince(ctx, runID, cursor, w.batchSize)
		if err != nil {
			return ingested, err
		}
		if len(batch) == 0 {
			return ingested, nil
		}

		if err := w.graph.Batch(ctx, func(s graphstore.Store) error {
			for _, rel := range batch {
				if err := w.mergeRelationship(ctx, s, rel); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return ingested, err
		}

		ingested += len(batch)
		cursor = batch[len(batch)-1].RelationshipHash
		w.logger.Debug("graph batch ingested",
			zap.String("run_id", runID), zap.Int("batch_size", len(batch)), zap.Int("total_ingested", ingested))
	}
}

func (w *Worker) mergeRelationship(ctx context.Context, s graphstore.Store, rel store.Relationship) error {
	for _, poiID := range [2]string{rel.SourcePOIID, rel.TargetPOIID} {
		poi, err := w.pois.Get(ctx, poiID)
		if err != nil {
			return err
		}
		if err := s.MergeNode(ctx, poi.ID, poi.Type, map[string]any{
			"name":       poi.Name,
			"file_id":    poi.FileID,
			"start_line": poi.StartLine,
			"end_line":   poi.EndLine,
		}); err != nil {
			return err
		}
	}

	return s.MergeEdge(ctx, rel.RelationshipHash, rel.SourcePOIID, rel.TargetPOIID, rel.Type, map[string]any{
		"confidence":     rel.FinalConfidence,
		"evidence_count": rel.EvidenceCount,
	})
}
