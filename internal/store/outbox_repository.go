package store

import (
	"context"
	"database/sql"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// OutboxRepository implements the transactional-outbox half of spec.md
// §4.2 step 4: evidence and outbox rows are written in the same
// transaction, and a separate publisher polls PENDING rows out-of-band.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertTx inserts an outbox row using an existing transaction, so the
// caller can commit it atomically alongside the evidence row it
// references.
func (r *OutboxRepository) InsertTx(ctx context.Context, tx *sql.Tx, eventType string, payload []byte) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO outbox (event_type, payload, status, attempts)
		VALUES ($1, $2, $3, 0)
		RETURNING id`,
		eventType, payload, OutboxStatusPending,
	).Scan(&id)
	if err != nil {
		return 0, pipelineerrors.NewDatabaseError("insert outbox row", err)
	}
	return id, nil
}

// PollPending selects up to limit PENDING rows, oldest first, skipping
// rows already locked by a concurrent publisher instance.
func (r *OutboxRepository) PollPending(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, payload, status, attempts, created_at, published_at
		FROM outbox
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		OutboxStatusPending, limit,
	)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("poll pending outbox rows", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.ID, &row.EventType, &row.Payload, &row.Status, &row.Attempts, &row.CreatedAt, &row.PublishedAt); err != nil {
			return nil, pipelineerrors.NewDatabaseError("scan outbox row", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, pipelineerrors.NewDatabaseError("iterate outbox rows", err)
	}
	return out, nil
}

// MarkPublished flips a row to PUBLISHED once the publisher has handed it
// to the queue, using the outbox row id itself as the queue's
// idempotency key.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = $1, published_at = now() WHERE id = $2`,
		OutboxStatusPublished, id,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("mark outbox row published", err)
	}
	return nil
}

// MarkFailed increments the attempt counter, flipping the row to FAILED
// once maxAttempts is reached so it stops being retried forever.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, maxAttempts int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE status END
		WHERE id = $1`,
		id, maxAttempts, OutboxStatusFailed,
	)
	if err != nil {
		return pipelineerrors.NewDatabaseError("mark outbox row failed", err)
	}
	return nil
}
