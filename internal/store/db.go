package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/korrelate/triangulate/internal/config"
	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// Connect opens a pgx-backed *sql.DB from cfg, grounded on
// internal/database/connection_test.go's DefaultConfig/LoadFromEnv shape.
func Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, pipelineerrors.NewDatabaseError("open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// ConnectX wraps Connect with sqlx. Nothing in this module calls it: the
// repositories, including the graph builder's VALIDATED-row scan, query
// through a plain *sql.DB.
func ConnectX(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, "pgx"), nil
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on any error or panic. It is the mechanism by which
// analysis workers satisfy spec.md §4.2's atomicity requirement: the
// evidence row and its outbox row are written in the same transaction, or
// neither is.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return pipelineerrors.NewDatabaseError("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return pipelineerrors.NewDatabaseError("commit transaction", err)
	}
	return nil
}
