package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/meetscribe/pkg/store"
)

// Sentinels shared with every [store.Store] implementation.
var (
	ErrNotFound  = store.ErrNotFound
	ErrClaimLost = store.ErrClaimLost
)

var _ store.Store = (*Store)(nil)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the PostgreSQL-backed session and chunk store. All methods are safe
// for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New wraps an existing connection. The caller owns db; Close is a no-op.
func New(db DB) *Store {
	return &Store{db: db}
}

// NewStore opens a pool on dsn and migrates the schema for vectors of
// embeddingDimensions. pgvector types are registered on each new connection.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (_ *Store, err error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = pgxvec.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open pool: %w", err)
	}
	defer func() {
		if err != nil {
			pool.Close()
		}
	}()

	if err = pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres store: ping %s: %w", cfg.ConnConfig.Host, err)
	}
	if err = Migrate(ctx, pool, embeddingDimensions); err != nil {
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// Ping verifies the database is reachable. It reports success for stores
// built with [New] around a connection that cannot be pinged.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases all pooled connections. It is a no-op for stores built with
// [New].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// affectedOne reports whether a conditional update won.
func affectedOne(tag pgconn.CommandTag) bool {
	return tag.RowsAffected() == 1
}
