package persistence

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// MigratePostgres applies every pending schema migration through a
// database/sql handle borrowed from pool.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return migrate(ctx, db, goose.DialectPostgres, "migrations/postgres", log)
}

func MigrateSQLite(ctx context.Context, db *sql.DB, log *logrus.Logger) error {
	return migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite", log)
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string, log *logrus.Logger) error {
	sub, err := fs.Sub(migrationFiles, dir)
	if err != nil {
		return errors.Wrapf(err, "open migrations %s", dir)
	}
	provider, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return errors.Wrap(err, "create migration provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	if log != nil {
		for _, r := range results {
			log.WithFields(logrus.Fields{
				"version":  r.Source.Version,
				"file":     r.Source.Path,
				"duration": r.Duration.String(),
			}).Info("migration applied")
		}
	}
	return nil
}
