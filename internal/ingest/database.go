package ingest

import (
	"context"
	"errors"
	"fmt"

	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
	_ "autotable/internal/storage/sqlite"
)

// Database pairs an open backend with an Ingestor and exposes table-level
// helpers around it.
type Database struct {
	backend storage.Backend
	in      *Ingestor
}

// Open opens a registered backend. Backend packages register themselves on
// import; SQLite is always available.
func Open(ctx context.Context, cfg storage.Config, opts ...Option) (*Database, error) {
	b, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewDatabase(b, opts...), nil
}

// OpenMemory opens a private in-memory SQLite database.
func OpenMemory(ctx context.Context, opts ...Option) (*Database, error) {
	return Open(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"}, opts...)
}

func NewDatabase(b storage.Backend, opts ...Option) *Database {
	return &Database{backend: b, in: New(b, opts...)}
}

func (db *Database) Ingestor() *Ingestor      { return db.in }
func (db *Database) Backend() storage.Backend { return db.backend }
func (db *Database) Close()                   { db.backend.Close() }

// InsertAll is Ingestor.InsertAll.
func (db *Database) InsertAll(ctx context.Context, table string, rows []record.Record, primaryKey ...string) error {
	return db.in.InsertAll(ctx, table, rows, primaryKey...)
}

// TableNames lists the tables in the configured schema.
func (db *Database) TableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := db.read(ctx, func(s storage.Session) error {
		var err error
		names, err = s.TableNames(ctx, db.in.schema)
		return err
	})
	return names, err
}

// Query runs raw SQL in its own transaction and commits it.
func (db *Database) Query(ctx context.Context, query string, args ...any) ([]record.Record, error) {
	var out []record.Record
	err := db.write(ctx, func(s storage.Session) error {
		var err error
		out, err = s.Query(ctx, query, args...)
		return err
	})
	return out, err
}

// Recreate drops every table in the configured schema. Each drop runs in its
// own transaction and failed drops are retried on the next pass, so tables
// referenced by foreign keys go after their dependents.
func (db *Database) Recreate(ctx context.Context) error {
	for {
		names, err := db.TableNames(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}

		var errs []error
		dropped := 0
		for _, name := range names {
			ref := storage.TableRef{Schema: db.in.schema, Name: name}
			err := db.write(ctx, func(s storage.Session) error { return s.DropTable(ctx, ref) })
			switch {
			case err == nil, errors.Is(err, ErrTableNotFound):
				dropped++
			default:
				errs = append(errs, fmt.Errorf("drop %s: %w", ref, err))
			}
		}
		if len(errs) > 0 && dropped == 0 {
			return errors.Join(errs...)
		}
	}
}

// Table returns a handle for name; the table need not exist.
func (db *Database) Table(name string) *Table {
	return &Table{db: db, ref: db.in.ref(name)}
}

// TableAt returns a handle for ref without parsing it, for names that
// contain a dot.
func (db *Database) TableAt(ref storage.TableRef) *Table {
	return &Table{db: db, ref: ref}
}

func (db *Database) read(ctx context.Context, fn func(storage.Session) error) error {
	s, err := db.backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.Rollback(ctx)
	return fn(s)
}

func (db *Database) write(ctx context.Context, fn func(storage.Session) error) error {
	s, err := db.backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.Rollback(ctx)
	if err := fn(s); err != nil {
		return err
	}
	return s.Commit(ctx)
}

// Table is a handle on one table. Every call re-reads the catalog.
type Table struct {
	db  *Database
	ref storage.TableRef
}

func (t *Table) Ref() storage.TableRef { return t.ref }

func (t *Table) Exists(ctx context.Context) (bool, error) {
	_, err := t.Describe(ctx)
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Describe returns ErrTableNotFound when the table is absent.
func (t *Table) Describe(ctx context.Context) (storage.TableInfo, error) {
	var info storage.TableInfo
	err := t.db.read(ctx, func(s storage.Session) error {
		var err error
		info, err = s.DescribeTable(ctx, t.ref)
		return err
	})
	return info, err
}

func (t *Table) Columns(ctx context.Context) ([]storage.Column, error) {
	info, err := t.Describe(ctx)
	if err != nil {
		return nil, err
	}
	return info.Columns, nil
}

func (t *Table) ColumnNames(ctx context.Context) ([]string, error) {
	info, err := t.Describe(ctx)
	if err != nil {
		return nil, err
	}
	return info.ColumnNames(), nil
}

// ColumnTypes maps each column to its semantic type as read back from the
// catalog.
func (t *Table) ColumnTypes(ctx context.Context) (map[string]semtype.Type, error) {
	info, err := t.Describe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]semtype.Type, len(info.Columns))
	for _, c := range info.Columns {
		out[c.Name] = c.Type
	}
	return out, nil
}

// Rows reads every row, ordered by primary key when there is one.
func (t *Table) Rows(ctx context.Context) ([]record.Record, error) {
	var out []record.Record
	err := t.db.read(ctx, func(s storage.Session) error {
		info, err := s.DescribeTable(ctx, t.ref)
		if err != nil {
			return err
		}
		out, err = s.SelectRows(ctx, t.ref, info.PrimaryKey)
		return err
	})
	return out, err
}

func (t *Table) InsertAll(ctx context.Context, rows []record.Record, primaryKey ...string) error {
	return t.db.in.InsertAllAt(ctx, t.ref, rows, primaryKey...)
}

// Insert writes rows into the existing table.
func (t *Table) Insert(ctx context.Context, rows []record.Record) error {
	return t.db.in.dispatcher.InsertRecords(ctx, t.ref, rows)
}

// Create builds the table from rows.
func (t *Table) Create(ctx context.Context, rows []record.Record, opts CreateOptions) (storage.TableInfo, error) {
	return t.db.in.builder.CreateTableFromRows(ctx, t.ref, rows, opts)
}

// Drop returns ErrTableNotFound when the table is absent.
func (t *Table) Drop(ctx context.Context) error {
	return t.db.write(ctx, func(s storage.Session) error { return s.DropTable(ctx, t.ref) })
}
