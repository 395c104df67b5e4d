package database

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/theblitlabs/misuse-detection/internal/config"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// Connect opens the run history database and verifies the connection.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "database url is not configured")
	}

	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errorutil.WrapError(err, "error opening database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errorutil.WrapError(err, "error connecting to the database")
	}

	return db, nil
}
