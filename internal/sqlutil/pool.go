// Package sqlutil opens the database/sql pools backing the analytics store.
package sqlutil

import (
	"database/sql"
	"fmt"
	"time"

	"example.com/pulsetrack/internal/config"
)

// Pool bounds a database/sql connection pool.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p Pool) apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}

// Open dispatches on the configured driver.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	pool := Pool{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path, pool)
	case config.DriverPostgres:
		return OpenPostgres(cfg.DSN, pool)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
