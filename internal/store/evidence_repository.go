package store

import (
	"context"
	"database/sql"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// EvidenceRepository persists per-worker relationship findings keyed by
// their deterministic evidence id, so redelivery of an already-applied
// analysis-finding event is a no-op (spec.md §4.2's idempotent-redelivery
// requirement).
type EvidenceRepository struct {
	db *sql.DB
}

func NewEvidenceRepository(db *sql.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// InsertTx inserts one evidence row within an existing transaction,
// silently doing nothing if the deterministic id already exists.
func (r *EvidenceRepository) InsertTx(ctx context.Context, tx *sql.Tx, e RelationshipEvidence) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relationship_evidence
			(id, run_id, job_id, relationship_hash, source_poi_id, target_poi_id, rel_type, source_worker, confidence, evidence_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.RunID, e.JobID, e.RelationshipHash, e.SourcePOIID, e.TargetPOIID, e.RelType, e.SourceWorker, e.Confidence, e.Payload,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("insert relationship evidence", err)
	}
	return nil
}

// ListByHash returns every evidence row recorded for a relationship hash,
// the input to reconciliation's weighted-average confidence computation.
func (r *EvidenceRepository) ListByHash(ctx context.Context, runID, hash string) ([]RelationshipEvidence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, job_id, relationship_hash, source_poi_id, target_poi_id, rel_type, source_worker, confidence, evidence_payload, created_at
		FROM relationship_evidence
		WHERE run_id = $1 AND relationship_hash = $2`,
		runID, hash,
	)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("list relationship evidence", err)
	}
	defer rows.Close()

	var out []RelationshipEvidence
	for rows.Next() {
		var e RelationshipEvidence
		if err := rows.Scan(&e.ID, &e.RunID, &e.JobID, &e.RelationshipHash, &e.SourcePOIID, &e.TargetPOIID, &e.RelType, &e.SourceWorker, &e.Confidence, &e.Payload, &e.CreatedAt); err != nil {
			return nil, pipelineerrors.NewDatabaseError("scan relationship evidence", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pipelineerrors.NewDatabaseError("iterate relationship evidence", err)
	}
	return out, nil
}

// DeleteByHash removes every evidence row for a relationship hash once
// reconciliation has folded them into a final Relationship row.
func (r *EvidenceRepository) DeleteByHash(ctx context.Context, runID, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM relationship_evidence WHERE run_id = $1 AND relationship_hash = $2`,
		runID, hash,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("delete relationship evidence", err)
	}
	return nil
}
