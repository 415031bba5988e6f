package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"

	"github.com/dmitrymomot/tokenstore/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate creates or upgrades the passwordless_tokens table.
func Migrate(ctx context.Context, db *sql.DB, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, db, migrations, "migrations", cfg, log)
}
