package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/sym"
)

// OpenPostgres opens a PostgreSQL (or Supabase) database through the pgx
// database/sql driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse postgres dsn")
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.WithDetailf(errors.Wrap(err, "failed to ping database"), "host: %s", cfg.Host)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"host", cfg.Host,
			"database", cfg.Database,
			"symbol", sym.DB,
			"driver", "postgres",
		)
	}
	return db, nil
}
