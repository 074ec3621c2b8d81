package store

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration embedded under
// migrations/ to db.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return pipelineerrors.NewInternal(err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return pipelineerrors.NewDatabaseError("apply migrations", err)
	}
	return nil
}
