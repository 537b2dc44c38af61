package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cierra-ai/cierra/internal/store"
)

// Compile-time interface checks.
var (
	_ store.SessionStore = (*Store)(nil)
	_ store.EventSink    = (*Store)(nil)
	_ store.DocStore     = (*Store)(nil)
)

// Store is the PostgreSQL-backed store. It holds a single [pgxpool.Pool] and
// implements [store.SessionStore], [store.EventSink], and [store.DocStore]
// directly.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// StoreOption adjusts the parsed pool configuration before connecting.
type StoreOption func(*pgxpool.Config)

// WithMaxConns caps the connection pool size. Zero or negative keeps the
// pgx default.
func WithMaxConns(n int) StoreOption {
	return func(cfg *pgxpool.Config) {
		if n > 0 {
			cfg.MaxConns = int32(n)
		}
	}
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
