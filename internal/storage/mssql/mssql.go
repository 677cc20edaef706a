// Package mssql implements storage.Backend for Microsoft SQL Server using
// github.com/microsoft/go-mssqldb through sqlx.
//
// The fast insert path uses the driver's bulk copy (mssql.CopyIn); the slow
// path builds multi-row INSERT statements with @pN placeholders.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"autotable/internal/semtype"
	"autotable/internal/storage"
)

const (
	// SQL Server accepts 2100 parameters per request; leave headroom.
	maxParams = 2000
	// Table value constructors are limited to 1000 rows.
	maxRows = 1000
)

var DefaultTypes = storage.NewTypeMap(map[semtype.Type]string{
	semtype.Integer:   "BIGINT",
	semtype.Text:      "NVARCHAR(MAX)",
	semtype.Float:     "FLOAT",
	semtype.Decimal:   "DECIMAL(38,10)",
	semtype.Timestamp: "DATETIME2",
	semtype.Bytes:     "VARBINARY(MAX)",
	semtype.Boolean:   "BIT",
	semtype.Date:      "DATE",
	semtype.Time:      "TIME",
	semtype.Duration:  "BIGINT",
	semtype.List:      "NVARCHAR(MAX)",
	semtype.Mapping:   "NVARCHAR(MAX)",
}, map[string]semtype.Type{
	"int":            semtype.Integer,
	"smallint":       semtype.Integer,
	"tinyint":        semtype.Integer,
	"varchar":        semtype.Text,
	"nchar":          semtype.Text,
	"char":           semtype.Text,
	"real":           semtype.Float,
	"numeric":        semtype.Decimal,
	"money":          semtype.Decimal,
	"datetime":       semtype.Timestamp,
	"datetimeoffset": semtype.Timestamp,
	"smalldatetime":  semtype.Timestamp,
	"binary":         semtype.Bytes,
	"varbinary":      semtype.Bytes,
})

// txConn is the subset of *sqlx.Tx a session needs.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	Commit() error
	Rollback() error
}

type Backend struct {
	db *sqlx.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver" connection pool and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
	db, err := sqlx.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Backend{db: db}, nil
}

// NewFromDB wraps an existing handle, e.g. one from sqlmock.
func NewFromDB(db *sql.DB) *Backend {
	return &Backend{db: sqlx.NewDb(db, "sqlserver")}
}

func (b *Backend) Kind() string { return "mssql" }

func (b *Backend) TypeMap() *storage.TypeMap { return DefaultTypes }

func (b *Backend) Close() {
	if b == nil || b.db == nil {
		return
	}
	_ = b.db.Close()
}

func (b *Backend) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx   txConn
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

var _ txConn = (*sqlx.Tx)(nil)
