package store

import (
	"context"
	"database/sql"
	"errors"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// RelationshipRepository stores the reconciled, final verdict for each
// relationship hash (spec.md §4.5): the result of folding every worker's
// evidence into one weighted-confidence row.
type RelationshipRepository struct {
	db *sql.DB
}

func NewRelationshipRepository(db *sql.DB) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

// Upsert writes the reconciled relationship, replacing any prior verdict
// for the same hash. Reconciliation is itself idempotent (spec.md §4.5),
// so redelivering a reconcile job simply recomputes the same row.
func (r *RelationshipRepository) Upsert(ctx context.Context, rel Relationship) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relationships
			(relationship_hash, run_id, source_poi_id, target_poi_id, type, final_confidence, evidence_count, status, consolidated_payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (relationship_hash) DO UPDATE SET
			final_confidence = EXCLUDED.final_confidence,
			evidence_count = EXCLUDED.evidence_count,
			status = EXCLUDED.status,
			consolidated_payload = EXCLUDED.consolidated_payload,
			updated_at = now()`,
		rel.RelationshipHash, rel.RunID, rel.SourcePOIID, rel.TargetPOIID, rel.Type,
		rel.FinalConfidence, rel.EvidenceCount, rel.Status, rel.Payload,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("upsert relationship", err)
	}
	return nil
}

// GetByHash returns the reconciled relationship for hash, or a not-found
// error if reconciliation hasn't run yet.
func (r *RelationshipRepository) GetByHash(ctx context.Context, hash string) (*Relationship, error) {
	var rel Relationship
	err := r.db.QueryRowContext(ctx, `
		SELECT relationship_hash, run_id, source_poi_id, target_poi_id, type, final_confidence, evidence_count, status, consolidated_payload, updated_at
		FROM relationships WHERE relationship_hash = $1`,
		hash,
	).Scan(&rel.RelationshipHash, &rel.RunID, &rel.SourcePOIID, &rel.TargetPOIID, &rel.Type,
		&rel.FinalConfidence, &rel.EvidenceCount, &rel.Status, &rel.Payload, &rel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipelineerrors.NewNotFoundError("relationship")
	}
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("get relationship by hash", err)
	}
	return &rel, nil
}

// ListValidatedSince returns up to limit VALIDATED relationships of runID
// whose hash sorts after afterHash, in relationship_hash order: the
// keyset-paged source feed for the graph builder's batched ingestion.
func (r *RelationshipRepository) ListValidatedSince(ctx context.Context, runID string, afterHash string, limit int) ([]Relationship, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT relationship_hash, run_id, source_poi_id, target_poi_id, type, final_confidence, evidence_count, status, consolidated_payload, updated_at
		FROM relationships
		WHERE run_id = $1 AND status = $2 AND relationship_hash > $3
		ORDER BY relationship_hash ASC
		LIMIT $4`,
		runID, RelationshipValidated, afterHash, limit,
	)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("list validated relationships", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.RelationshipHash, &rel.RunID, &rel.SourcePOIID, &rel.TargetPOIID, &rel.Type,
			&rel.FinalConfidence, &rel.EvidenceCount, &rel.Status, &rel.Payload, &rel.UpdatedAt); err != nil {
			return nil, pipelineerrors.NewDatabaseError("scan relationship", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, pipelineerrors.NewDatabaseError("iterate relationships", err)
	}
	return out, nil
}
