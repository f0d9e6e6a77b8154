// Package migrate runs the SQL migrations in migrations/ against the
// store, using goose the way jordigilh-kubernaut's datastorage suite
// applies its own goose-marker SQL files (there, embedded directly in
// integration tests; here, through the library's Up/Down entry points so
// a one-off init job can run them against a real
// deployment instead of only in-test).
package migrate

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	goose.SetBaseFS(migrationsFS)
}

// Up applies every pending migration in migrations/.
func Up(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Down rolls back the most recently applied migration.
func Down(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Down(db, "migrations")
}
