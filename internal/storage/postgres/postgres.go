// Package postgres implements storage.Backend on pgx.
//
// Sessions wrap a pgx.Tx. The fast insert path uses COPY FROM, the slow path
// multi-row INSERT statements with numbered placeholders.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// maxParams is the protocol limit on bind parameters per statement.
const maxParams = 65535

var DefaultTypes = storage.NewTypeMap(map[semtype.Type]string{
	semtype.Integer:   "BIGINT",
	semtype.Text:      "TEXT",
	semtype.Float:     "DOUBLE PRECISION",
	semtype.Decimal:   "NUMERIC",
	semtype.Timestamp: "TIMESTAMPTZ",
	semtype.Bytes:     "BYTEA",
	semtype.Boolean:   "BOOLEAN",
	semtype.Date:      "DATE",
	semtype.Time:      "TIME",
	semtype.Duration:  "INTERVAL",
	semtype.List:      "JSON",
	semtype.Mapping:   "JSONB",
}, map[string]semtype.Type{
	"integer":                     semtype.Integer,
	"smallint":                    semtype.Integer,
	"int":                         semtype.Integer,
	"int4":                        semtype.Integer,
	"int8":                        semtype.Integer,
	"character varying":           semtype.Text,
	"varchar":                     semtype.Text,
	"character":                   semtype.Text,
	"real":                        semtype.Float,
	"float8":                      semtype.Float,
	"timestamp with time zone":    semtype.Timestamp,
	"timestamp without time zone": semtype.Timestamp,
	"timestamp":                   semtype.Timestamp,
	"time without time zone":      semtype.Time,
	"bool":                        semtype.Boolean,
	"array":                       semtype.List,
})

type Backend struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Backend{pool: pool}, nil
}

func (b *Backend) Kind() string { return "postgres" }

func (b *Backend) TypeMap() *storage.TypeMap { return DefaultTypes }

// Close closes the connection pool.
func (b *Backend) Close() { b.pool.Close() }

func (b *Backend) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx pgx.Tx
}

func (s *session) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
