package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
)

// Connect opens the configured job store and migrates it.
// driver is "sqlite" (path is used) or "postgres" (dsn is used).
func Connect(ctx context.Context, driver, path, dsn string, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	switch Dialect(driver) {
	case "", SQLite:
		db, err := OpenWithMigrations(path, logger)
		return db, SQLite, err
	case Postgres:
		db, err := OpenPostgres(ctx, dsn, logger)
		if err != nil {
			return nil, Postgres, err
		}
		if err := Migrate(db, Postgres, logger); err != nil {
			db.Close()
			return nil, Postgres, errors.Wrap(err, "failed to run migrations")
		}
		return db, Postgres, nil
	default:
		return nil, "", errors.Newf("unsupported database driver %q", driver)
	}
}
