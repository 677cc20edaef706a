package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"autotable/internal/metrics"
	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// CreateOptions controls how a table is derived from records.
type CreateOptions struct {
	// PrimaryKey lists key columns in key order. Duplicates are dropped. A key
	// column that no record carries is added as an autoincrement integer.
	PrimaryKey []string

	// ColumnTypes overrides inference per column.
	ColumnTypes map[string]semtype.Type

	// IfExists defaults to storage.IfExistsError.
	IfExists storage.ExistencePolicy

	// Missing is the value a record contributes for a key it lacks. It is
	// never used as type evidence. Nil means record.Missing.
	Missing any

	// Columns fixes the column set and order. Empty means every key seen,
	// in first-seen order.
	Columns []string

	// Autoincrement makes a single-column integer primary key autoincrement.
	Autoincrement bool
}

// SchemaBuilder creates tables from sample records.
type SchemaBuilder struct {
	backend storage.Backend
	types   *storage.TypeMap
	log     *slog.Logger
}

// NewSchemaBuilder returns a builder that maps types through types, or the
// backend's defaults when types is nil.
func NewSchemaBuilder(backend storage.Backend, types *storage.TypeMap, log *slog.Logger) *SchemaBuilder {
	if types == nil {
		types = backend.TypeMap()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SchemaBuilder{backend: backend, types: types, log: log}
}

// CreateTableFromRows infers a schema from rows, creates the table and
// returns the catalog's description of it.
//
// Errors:
//   - ErrEmptySchemaSource when there are neither rows nor declared columns.
//   - ErrUnsupportedType when a column type has no native mapping.
//   - ErrTableAlreadyExists when the table exists and the policy is "error".
//   - ErrCreationFailed wrapping any backend failure; nothing is left behind.
func (b *SchemaBuilder) CreateTableFromRows(ctx context.Context, ref storage.TableRef, rows []record.Record, opts CreateOptions) (info storage.TableInfo, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("create_table", start, err) }()

	spec, err := b.BuildSpec(ref, rows, opts)
	if err != nil {
		return storage.TableInfo{}, err
	}

	sess, err := b.backend.Begin(ctx)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("%w: begin: %w", ErrCreationFailed, err)
	}
	defer sess.Rollback(ctx)

	info, err = b.createInSession(ctx, sess, spec)
	if err != nil {
		return storage.TableInfo{}, err
	}
	if err = sess.Commit(ctx); err != nil {
		return storage.TableInfo{}, fmt.Errorf("%w: commit %s: %w", ErrCreationFailed, ref, err)
	}
	return info, nil
}

// BuildSpec derives the create request for rows without touching the
// database.
func (b *SchemaBuilder) BuildSpec(ref storage.TableRef, rows []record.Record, opts CreateOptions) (storage.TableSpec, error) {
	if len(rows) == 0 && len(opts.Columns) == 0 {
		return storage.TableSpec{}, fmt.Errorf("%w: %s", ErrEmptySchemaSource, ref)
	}

	policy := opts.IfExists
	if policy == "" {
		policy = storage.IfExistsError
	}
	missing := opts.Missing
	if missing == nil {
		missing = record.Missing
	}

	pk := normalizeKey(opts.PrimaryKey)
	isKey := make(map[string]bool, len(pk))
	for _, name := range pk {
		isKey[name] = true
	}

	data := record.Columns(rows, opts.Columns, missing)
	present := make(map[string]bool, len(data))
	for _, c := range data {
		present[c.Name] = true
	}

	var cols []storage.Column
	for _, name := range lo.Filter(pk, func(name string, _ int) bool { return !present[name] }) {
		typ, declared := opts.ColumnTypes[name]
		if !declared {
			typ = semtype.Integer
		}
		cols = append(cols, storage.Column{
			Name:          name,
			Type:          typ,
			PrimaryKey:    true,
			Autoincrement: typ == semtype.Integer,
		})
	}
	for _, c := range data {
		typ, declared := opts.ColumnTypes[c.Name]
		if !declared {
			typ = semtype.Infer(record.Without(c.Values, missing))
		}
		cols = append(cols, storage.Column{
			Name:       c.Name,
			Type:       typ,
			Nullable:   !isKey[c.Name],
			PrimaryKey: isKey[c.Name],
		})
	}

	if opts.Autoincrement {
		if len(pk) != 1 {
			return storage.TableSpec{}, fmt.Errorf("%w: %s: autoincrement needs a single-column primary key, got %d columns", ErrCreationFailed, ref, len(pk))
		}
		for i := range cols {
			if cols[i].Name != pk[0] {
				continue
			}
			if cols[i].Type != semtype.Integer {
				return storage.TableSpec{}, fmt.Errorf("%w: %s: autoincrement column %q is %s, not integer", ErrCreationFailed, ref, pk[0], cols[i].Type)
			}
			cols[i].Autoincrement = true
		}
	}

	for i := range cols {
		native, err := b.types.Native(cols[i].Type)
		if err != nil {
			return storage.TableSpec{}, fmt.Errorf("%s.%s: %w", ref, cols[i].Name, err)
		}
		cols[i].NativeType = native
		cols[i].Position = i + 1
	}

	spec := storage.TableSpec{Ref: ref, Columns: cols, PrimaryKey: pk, IfExists: policy}
	if err := spec.Validate(); err != nil {
		return storage.TableSpec{}, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	return spec, nil
}

// createInSession applies the existence policy and creates spec inside sess.
// A replaced table is dropped in the same session, so a failure keeps it.
func (b *SchemaBuilder) createInSession(ctx context.Context, sess storage.Session, spec storage.TableSpec) (storage.TableInfo, error) {
	ref := spec.Ref

	names, err := sess.TableNames(ctx, ref.Schema)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("%w: list tables: %w", ErrCreationFailed, err)
	}
	if lo.Contains(names, ref.Name) {
		switch spec.IfExists {
		case storage.IfExistsReplace:
			err := sess.DropTable(ctx, ref)
			if err != nil && !errors.Is(err, ErrTableNotFound) {
				return storage.TableInfo{}, fmt.Errorf("%w: drop %s: %w", ErrCreationFailed, ref, err)
			}
			b.log.Debug("dropped table for replace", "table", ref.String())
		default:
			return storage.TableInfo{}, fmt.Errorf("%w: %s", ErrTableAlreadyExists, ref)
		}
	}

	if err := sess.CreateTable(ctx, spec); err != nil {
		return storage.TableInfo{}, fmt.Errorf("%w: %s: %w", ErrCreationFailed, ref, err)
	}
	info, err := sess.DescribeTable(ctx, ref)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("%w: describe %s: %w", ErrCreationFailed, ref, err)
	}

	metrics.IncCounter(metrics.TablesCreated, 1, metrics.Labels{"backend": b.backend.Kind()})
	b.log.Info("created table",
		"table", ref.String(),
		"columns", len(info.Columns),
		"primary_key", info.PrimaryKey,
	)
	return info, nil
}

// normalizeKey drops empty names and repeats, keeping first-seen order.
func normalizeKey(names []string) []string {
	return lo.Uniq(lo.Filter(names, func(n string, _ int) bool { return n != "" }))
}
