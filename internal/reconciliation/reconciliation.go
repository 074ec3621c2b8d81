// Package reconciliation implements the reconciliation worker of spec.md
// §4.5: fold every worker's evidence for a relationship hash into one
// final, weighted-confidence verdict.
package reconciliation

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/cache"
	"github.com/korrelate/triangulate/internal/store"
)

// Weights maps an analysis scope name to its confidence-averaging weight
// (spec.md §6's reconciliation.weights, defaulted in internal/config).
type Weights map[string]float64

// Worker reconciles one relationship hash per Process call.
type Worker struct {
	evidence  *store.EvidenceRepository
	relations *store.RelationshipRepository
	weights   Weights
	threshold float64
	logger    *zap.Logger
}

func NewWorker(evidence *store.EvidenceRepository, relations *store.RelationshipRepository, weights Weights, threshold float64, logger *zap.Logger) *Worker {
	return &Worker{evidence: evidence, relations: relations, weights: weights, threshold: threshold, logger: logger}
}

// Process loads every evidence row for hash, computes the weighted-average
// confidence, upserts the final Relationship row, and deletes the
// evidence once folded in (spec.md §4.5 steps 1-4). Reconciliation is
// idempotent: redelivering the same reconcile job recomputes an identical
// row from whatever evidence remains.
func (w *Worker) Process(ctx context.Context, runID, hash string) error {
	rows, err := w.evidence.ListByHash(ctx, runID, hash)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// Already reconciled and its evidence deleted by a prior, possibly
		// redelivered, run of this same job.
		return nil
	}

	final := w.weightedConfidence(rows)
	authoritative := mostAuthoritative(rows)

	status := store.RelationshipRejected
	if final >= w.threshold {
		status = store.RelationshipValidated
	}

	if err := w.relations.Upsert(ctx, store.Relationship{
		RelationshipHash: hash,
		RunID:            runID,
		SourcePOIID:      authoritative.SourcePOIID,
		TargetPOIID:      authoritative.TargetPOIID,
		Type:             authoritative.RelType,
		FinalConfidence:  final,
		EvidenceCount:    len(rows),
		Status:           status,
		Payload:          authoritative.Payload,
	}); err != nil {
		return err
	}

	w.logger.Debug("relationship reconciled",
		zap.String("run_id", runID), zap.String("relationship_hash", hash),
		zap.Float64("final_confidence", final), zap.String("status", string(status)),
		zap.Int("evidence_count", len(rows)))

	return w.evidence.DeleteByHash(ctx, runID, hash)
}

// weightedConfidence computes sum(confidence_i * weight_i) / sum(weight_i)
// across every evidence row, defaulting an unrecognized source_worker's
// weight to 1.0, then clamps to [0,1] (spec.md §4.5 step 3).
func (w *Worker) weightedConfidence(rows []store.RelationshipEvidence) float64 {
	var weightedSum, weightTotal float64
	for _, r := range rows {
		weight, ok := w.weights[r.SourceWorker]
		if !ok {
			weight = 1.0
		}
		weightedSum += r.Confidence * weight
		weightTotal += weight
	}
	if weightTotal == 0 {
		return 0
	}
	return math.Min(1, math.Max(0, weightedSum/weightTotal))
}

// mostAuthoritative picks the row to source the final relationship's
// source/target POI ids, type, and consolidated payload from: the row
// from the highest-authority scope, tie-broken by confidence (spec.md
// §4.5 step 3 — "the most authoritative scope's view of the
// relationship's identity wins").
func mostAuthoritative(rows []store.RelationshipEvidence) store.RelationshipEvidence {
	best := rows[0]
	bestAuthority := cache.Authority[best.SourceWorker]
	for _, r := range rows[1:] {
		authority := cache.Authority[r.SourceWorker]
		if authority > bestAuthority || (authority == bestAuthority && r.Confidence > best.Confidence) {
			best = r
			bestAuthority = authority
		}
	}
	return best
}
