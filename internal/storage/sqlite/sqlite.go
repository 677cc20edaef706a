package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER for the bundled library.
const maxParams = 32766

// DefaultTypes is the SQLite type map. SQLite keeps the declared name, so
// every semantic type gets its own: INTERVAL holds integer nanoseconds with
// INTEGER affinity, JSON_LIST and JSON hold lists and mappings as JSON text.
var DefaultTypes = storage.NewTypeMap(map[semtype.Type]string{
	semtype.Integer:   "INTEGER",
	semtype.Text:      "TEXT",
	semtype.Float:     "REAL",
	semtype.Decimal:   "NUMERIC",
	semtype.Timestamp: "TIMESTAMP",
	semtype.Bytes:     "BLOB",
	semtype.Boolean:   "BOOLEAN",
	semtype.Date:      "DATE",
	semtype.Time:      "TIME",
	semtype.Duration:  "INTERVAL",
	semtype.List:      "JSON_LIST",
	semtype.Mapping:   "JSON",
}, map[string]semtype.Type{
	"int":       semtype.Integer,
	"bigint":    semtype.Integer,
	"varchar":   semtype.Text,
	"char":      semtype.Text,
	"double":    semtype.Float,
	"float":     semtype.Float,
	"decimal":   semtype.Decimal,
	"datetime":  semtype.Timestamp,
	"bool":      semtype.Boolean,
	"jsonb":     semtype.Mapping,
})

// Backend implements storage.Backend for SQLite.
//
// SQLite allows a single writer, so the pool is pinned to one connection.
// That also keeps ":memory:" databases alive for the backend's lifetime.
type Backend struct {
	db *sqlx.DB
}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
	db, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Kind() string { return "sqlite" }

func (b *Backend) TypeMap() *storage.TypeMap { return DefaultTypes }

func (b *Backend) Close() { _ = b.db.Close() }

func (b *Backend) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx   *sqlx.Tx
	done bool
}

func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Commit()
}

func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
