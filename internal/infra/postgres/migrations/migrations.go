package migrations

import (
	"context"
	"embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

var Migrations = migrate.NewMigrations()

func execFile(file string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		query, err := sqlFiles.ReadFile(file)
		if err != nil {
			return err
		}
		_, err = db.ExecContext(ctx, string(query))
		return err
	}
}

func exec(query string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, query)
		return err
	}
}
