package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Supported database/sql driver names.
const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

// Store implements auth.CredentialStore and auth.GrantStore over Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects with driver (DriverPGX or DriverPQ) and applies pool defaults.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPGX, DriverPQ:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle. driver selects the placeholder dialect.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: sqlx.NewDb(db, driver)}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for migrations and readiness probes.
func (s *Store) DB() *sql.DB { return s.db.DB }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}
