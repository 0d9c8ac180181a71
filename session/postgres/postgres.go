// Package postgres is a PostgreSQL-backed [session.Registry].
//
// Records live in a single refresh_tokens table. The family and subject
// adjacency indexes are the table's secondary indexes on those columns, so a
// family disappears from FamiliesForSubject as soon as its last row is gone.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/goRotate/session"
	"github.com/MrEthical07/goRotate/session/postgres/migrations"
)

const sweepBatch = 1000

var _ session.Registry = (*Store)(nil)

// Store implements [session.Registry] on a pgx connection pool.
type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// New connects to dsn, verifies connectivity and returns a Store that owns the
// pool.
func New(ctx context.Context, dsn string, opts ...session.Option) (*Store, error) {
	const op = "session.postgres.New"

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}

	return NewWithPool(db, opts...), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(db *pgxpool.Pool, opts ...session.Option) *Store {
	o := session.NewOptions(opts...)
	return &Store{db: db, now: o.Now}
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	const op = "session.postgres.Migrate"

	db := stdlib.OpenDBFromPool(s.db)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}
