// Package database centralises sqlx connection helpers for both supported
// engines.  Postgres goes through the pgx stdlib driver; MySQL and MariaDB
// go through go-sql-driver/mysql.
//
// Public entry points:
//
//	Open(ctx, driver, dsn)                 – process-wide pools (registry, admin).
//	OpenWithOptions(ctx, driver, dsn, opt) – per-tenant pools.
//
// Both helpers Ping the database before returning so callers never hold a
// pool that fails on its first real query.  Callers Close() the returned
// *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Engine names as they appear in configuration.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Options tunes one pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions suits process-wide pools such as the registry connection.
var DefaultOptions = Options{
	MaxOpenConns:    15,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
}

// DriverName maps a configured engine to the database/sql driver name.
func DriverName(engine string) (string, error) {
	switch engine {
	case Postgres, "pgx":
		return "pgx", nil
	case MySQL:
		return "mysql", nil
	}
	return "", fmt.Errorf("database: unsupported engine %q", engine)
}

// Open returns a pinged *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, engine, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, engine, dsn, DefaultOptions)
}

// OpenWithOptions opens a pool, applies opt, and pings it under ctx.  On
// ping failure the pool is closed before returning.
func OpenWithOptions(ctx context.Context, engine, dsn string, opt Options) (*sqlx.DB, error) {
	driver, err := DriverName(engine)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	Configure(db, opt)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Configure applies pool limits.  Zero fields are left at driver defaults.
func Configure(db *sqlx.DB, opt Options) {
	if opt.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opt.ConnMaxLifetime)
	}
}
