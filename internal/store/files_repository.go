package store

import (
	"context"
	"database/sql"
	"errors"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// FilesRepository implements the file inventory consulted by the scout
// and the self-cleaning reconciler's mark-and-sweep passes (spec.md
// §4.1, §4.7).
type FilesRepository struct {
	db *sql.DB
}

func NewFilesRepository(db *sql.DB) *FilesRepository {
	return &FilesRepository{db: db}
}

// Upsert records a discovered file as active, refreshing its checksum
// and language when the same path is rediscovered with different
// content.
func (r *FilesRepository) Upsert(ctx context.Context, f File) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO files (id, run_id, path, checksum, language, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			language = EXCLUDED.language,
			status = EXCLUDED.status`,
		f.ID, f.RunID, f.Path, f.Checksum, f.Language, FileStatusActive,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("upsert file", err)
	}
	return nil
}

// ListActive returns every active file belonging to runID, the mark
// phase's enumeration of spec.md §4.7.
func (r *FilesRepository) ListActive(ctx context.Context, runID string) ([]File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, path, checksum, language, status
		FROM files WHERE run_id = $1 AND status = $2`,
		runID, FileStatusActive,
	)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("list active files", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.RunID, &f.Path, &f.Checksum, &f.Language, &f.Status); err != nil {
			return nil, pipelineerrors.NewDatabaseError("scan file", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, pipelineerrors.NewDatabaseError("iterate files", err)
	}
	return out, nil
}

// MarkPendingDeletion flags every active file belonging to runID whose id
// is not present in seenIDs: the mark phase of spec.md §4.7's
// self-cleaning reconciler.
func (r *FilesRepository) MarkPendingDeletion(ctx context.Context, runID string, seenIDs []string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE files SET status = $1
		WHERE run_id = $2 AND status = $3 AND NOT (id = ANY($4))`,
		FileStatusPendingDeletion, runID, FileStatusActive, pqArray(seenIDs),
	)
	if err != nil {
		return 0, pipelineerrors.NewDatabaseError("mark files pending deletion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pipelineerrors.NewDatabaseError("read rows affected", err)
	}
	return n, nil
}

// ListPendingDeletion returns files flagged for removal, the sweep
// phase's work list.
func (r *FilesRepository) ListPendingDeletion(ctx context.Context, runID string) ([]File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, path, checksum, language, status
		FROM files WHERE run_id = $1 AND status = $2`,
		runID, FileStatusPendingDeletion,
	)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("list files pending deletion", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.RunID, &f.Path, &f.Checksum, &f.Language, &f.Status); err != nil {
			return nil, pipelineerrors.NewDatabaseError("scan file", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, pipelineerrors.NewDatabaseError("iterate files", err)
	}
	return out, nil
}

// Delete removes a file row once the sweep phase has deleted its graph
// node and dependent POIs.
func (r *FilesRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return pipelineerrors.NewDatabaseError("delete file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pipelineerrors.NewDatabaseError("read rows affected", err)
	}
	if n == 0 {
		return pipelineerrors.NewNotFoundError("file")
	}
	return nil
}

// Get returns the file with the given id.
func (r *FilesRepository) Get(ctx context.Context, id string) (*File, error) {
	var f File
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, path, checksum, language, status FROM files WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.RunID, &f.Path, &f.Checksum, &f.Language, &f.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipelineerrors.NewNotFoundError("file")
	}
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("get file", err)
	}
	return &f, nil
}

// pqArray renders a Go string slice as a Postgres text[] literal, sparing
// the package a dependency on lib/pq solely for pq.Array's convenience
// wrapper around the same ARRAY[...] syntax.
func pqArray(ids []string) string {
	if len(ids) == 0 {
		return "{}"
	}
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "}"
}
