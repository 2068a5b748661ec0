package internal

import (
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/DukeRupert/kerf/internal/migrations"
)

// RunMigrations applies every pending goose migration.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.Up(db, ".")
}
