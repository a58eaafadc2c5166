package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ms-checkin/internal/config"
	"ms-checkin/internal/logger"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// OpenSQL opens and pings Postgres, retrying while the database comes up.
func OpenSQL(ctx context.Context, cfg config.DatabaseConfig, l *logger.Logger) (*sql.DB, error) {
	var sqldb *sql.DB
	var err error

	for i := 0; i < connectAttempts; i++ {
		l.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				break
			}
			sqldb.Close()
		}
		l.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < connectAttempts-1 {
			select {
			case <-time.After(connectDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", connectAttempts, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	return sqldb, nil
}

// Connect returns a bun handle over Postgres.
func Connect(ctx context.Context, cfg config.DatabaseConfig, l *logger.Logger) (*bun.DB, error) {
	sqldb, err := OpenSQL(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	l.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
