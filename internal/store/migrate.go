package store

import (
	"database/sql"
	"embed"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations exposes the embedded schema migrations for the db CLI.
func Migrations() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
}

// MigrateUp applies all pending migrations and returns the number applied.
func MigrateUp(db *sql.DB) (int, error) {
	return migrate.Exec(db, "postgres", Migrations(), migrate.Up)
}

// MigrateDown rolls back at most max migrations (0 rolls back everything).
func MigrateDown(db *sql.DB, max int) (int, error) {
	return migrate.ExecMax(db, "postgres", Migrations(), migrate.Down, max)
}
