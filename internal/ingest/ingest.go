// Package ingest loads loosely typed records into relational tables.
//
// The first batch written to a missing table also defines it: column types
// are inferred from the records, the caller names the primary key, and the
// table is created in the same transaction as the insert. Tables with a
// primary key take the batched driver path (MappedBatch); tables without one
// take a single multi-row INSERT (StatementBatch).
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"autotable/internal/metrics"
	"autotable/internal/record"
	"autotable/internal/storage"
)

// Ingestor is the entry point for InsertAll.
type Ingestor struct {
	backend storage.Backend
	types   *storage.TypeMap
	schema  string
	log     *slog.Logger

	builder    *SchemaBuilder
	dispatcher *InsertDispatcher
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithTypeMap replaces the backend's default type map.
func WithTypeMap(m *storage.TypeMap) Option {
	return func(in *Ingestor) { in.types = m }
}

// WithSchema sets the namespace for unqualified table names.
func WithSchema(schema string) Option {
	return func(in *Ingestor) { in.schema = schema }
}

func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) { in.log = l }
}

// New returns an Ingestor writing through backend.
func New(backend storage.Backend, opts ...Option) *Ingestor {
	in := &Ingestor{backend: backend}
	for _, o := range opts {
		o(in)
	}
	if in.types == nil {
		in.types = backend.TypeMap()
	}
	if in.log == nil {
		in.log = slog.Default()
	}
	in.log = in.log.With("backend", backend.Kind())
	in.builder = NewSchemaBuilder(backend, in.types, in.log)
	in.dispatcher = NewInsertDispatcher(backend, in.log)
	return in
}

func (in *Ingestor) SchemaBuilder() *SchemaBuilder     { return in.builder }
func (in *Ingestor) Dispatcher() *InsertDispatcher     { return in.dispatcher }
func (in *Ingestor) Backend() storage.Backend          { return in.backend }
func (in *Ingestor) TypeMap() *storage.TypeMap         { return in.types }
func (in *Ingestor) Ref(table string) storage.TableRef { return in.ref(table) }

// ref resolves "schema.table" or a bare name in the configured schema.
func (in *Ingestor) ref(table string) storage.TableRef {
	ref := storage.ParseTableRef(table)
	if ref.Schema == "" {
		ref.Schema = in.schema
	}
	return ref
}

// InsertAll inserts rows into table, creating it from rows first when it does
// not exist. primaryKey only matters for creation; key columns missing from
// rows become an autoincrement integer.
//
// Edge cases:
//   - Empty rows on an existing table is a no-op.
//   - Empty rows on a missing table fails with ErrEmptySchemaSource.
//
// Creation and insert share one transaction, so a failed insert also undoes
// the creation.
func (in *Ingestor) InsertAll(ctx context.Context, table string, rows []record.Record, primaryKey ...string) error {
	return in.InsertAllAt(ctx, in.ref(table), rows, primaryKey...)
}

// InsertAllAt is InsertAll for an already resolved reference; ref.Name is used
// as given, dots included.
func (in *Ingestor) InsertAllAt(ctx context.Context, ref storage.TableRef, rows []record.Record, primaryKey ...string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("insert_all", start, err) }()

	sess, err := in.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrInsertFailed, err)
	}
	defer sess.Rollback(ctx)

	names, err := sess.TableNames(ctx, ref.Schema)
	if err != nil {
		return fmt.Errorf("list tables in %q: %w", ref.Schema, err)
	}

	if !lo.Contains(names, ref.Name) {
		if len(rows) == 0 {
			return fmt.Errorf("%w: %s does not exist", ErrEmptySchemaSource, ref)
		}
		spec, err := in.builder.BuildSpec(ref, rows, CreateOptions{
			PrimaryKey: primaryKey,
			IfExists:   storage.IfExistsError,
		})
		if err != nil {
			return err
		}
		if _, err := in.builder.createInSession(ctx, sess, spec); err != nil {
			return err
		}
	} else if len(rows) == 0 {
		return nil
	}

	if err = in.dispatcher.insertInSession(ctx, sess, ref, rows); err != nil {
		return err
	}
	if err = sess.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrInsertFailed, ref, err)
	}
	return nil
}
