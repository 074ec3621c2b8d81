package store

import (
	"context"
	"database/sql"
	"errors"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// POIRepository stores points of interest extracted per file, the nodes
// that relationships in relationship_evidence/relationships point
// between (spec.md §2, §4.1).
type POIRepository struct {
	db *sql.DB
}

func NewPOIRepository(db *sql.DB) *POIRepository {
	return &POIRepository{db: db}
}

// Upsert inserts or refreshes a POI by its deterministic id.
func (r *POIRepository) Upsert(ctx context.Context, p POI) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pois (id, file_id, name, type, start_line, end_line, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			hash = EXCLUDED.hash`,
		p.ID, p.FileID, p.Name, p.Type, p.StartLine, p.EndLine, p.Hash,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("upsert poi", err)
	}
	return nil
}

// UpsertTx is Upsert run within an existing transaction, used by the
// analysis worker to record the POI rows a candidate relationship
// references in the same transaction as its evidence/outbox rows.
func (r *POIRepository) UpsertTx(ctx context.Context, tx *sql.Tx, p POI) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pois (id, file_id, name, type, start_line, end_line, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			hash = EXCLUDED.hash`,
		p.ID, p.FileID, p.Name, p.Type, p.StartLine, p.EndLine, p.Hash,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("upsert poi", err)
	}
	return nil
}

// Get returns the POI with the given id.
func (r *POIRepository) Get(ctx context.Context, id string) (*POI, error) {
	var p POI
	err := r.db.QueryRowContext(ctx, `
		SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.FileID, &p.Name, &p.Type, &p.StartLine, &p.EndLine, &p.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipelineerrors.NewNotFoundError("poi")
	}
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("get poi", err)
	}
	return &p, nil
}

// ListByFile returns every POI extracted from fileID, used by the
// self-cleaning reconciler's sweep phase to find the POI nodes to remove.
func (r *POIRepository) ListByFile(ctx context.Context, fileID string) ([]POI, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE file_id = $1`,
		fileID,
	)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("list pois by file", err)
	}
	defer rows.Close()

	var out []POI
	for rows.Next() {
		var p POI
		if err := rows.Scan(&p.ID, &p.FileID, &p.Name, &p.Type, &p.StartLine, &p.EndLine, &p.Hash); err != nil {
			return nil, pipelineerrors.NewDatabaseError("scan poi", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, pipelineerrors.NewDatabaseError("iterate pois", err)
	}
	return out, nil
}

// DeleteByFile removes every POI belonging to fileID, used by the
// self-cleaning reconciler's sweep phase after the graph node is gone.
func (r *POIRepository) DeleteByFile(ctx context.Context, fileID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pois WHERE file_id = $1`, fileID)
	if err != nil {
		return pipelineerrors.NewDatabaseError("delete pois by file", err)
	}
	return nil
}
