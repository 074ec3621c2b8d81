package store

import (
	"context"
	"database/sql"
	"errors"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// RunRepository tracks each pipeline run's lifecycle (spec.md §3, §7):
// created when the scout starts walking, updated as jobs complete or
// dead-letter, and closed out with a terminal status once the graph
// builder finishes.
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run in the running state with its expected total
// job count, seeded by the scout once the filesystem walk is complete.
func (r *RunRepository) Create(ctx context.Context, id, rootPath string, totalJobs int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, root_path, status, total_jobs, completed_jobs, dead_letter_jobs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, now(), now())`,
		id, rootPath, RunStatusRunning, totalJobs,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("create run", err)
	}
	return nil
}

// IncrementCompleted atomically bumps the completed-job counter.
func (r *RunRepository) IncrementCompleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET completed_jobs = completed_jobs + 1, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("increment completed jobs", err)
	}
	return nil
}

// IncrementDeadLetter atomically bumps the dead-letter-job counter.
func (r *RunRepository) IncrementDeadLetter(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET dead_letter_jobs = dead_letter_jobs + 1, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("increment dead letter jobs", err)
	}
	return nil
}

// Finalize transitions a run to a terminal status once the graph builder
// has processed every reconciled relationship (spec.md §7): completed if
// there were no dead letters, completed-with-dead-letters otherwise, or
// failed if a fatal-contract violation aborted the run outright.
func (r *RunRepository) Finalize(ctx context.Context, id string, status RunStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("finalize run", err)
	}
	return nil
}

// Get returns the run with the given id.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.db.QueryRowContext(ctx, `
		SELECT id, root_path, status, total_jobs, completed_jobs, dead_letter_jobs, created_at, updated_at
		FROM runs WHERE id = $1`,
		id,
	).Scan(&run.ID, &run.RootPath, &run.Status, &run.TotalJobs, &run.CompletedJobs, &run.DeadLetterJobs, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipelineerrors.NewNotFoundError("run")
	}
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("get run", err)
	}
	return &run, nil
}
