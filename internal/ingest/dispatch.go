package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autotable/internal/metrics"
	"autotable/internal/record"
	"autotable/internal/storage"
)

// Insert paths, also used as the "path" metric label.
const (
	PathMapped    = "mapped"
	PathStatement = "statement"
)

// BulkInserter writes a batch of records into an existing table inside an
// open session.
type BulkInserter interface {
	Path() string
	Insert(ctx context.Context, sess storage.Session, info storage.TableInfo, rows []record.Record) (int64, error)
}

// SelectInserter picks the insert path for a table: MappedBatch when it has a
// primary key, StatementBatch otherwise.
func SelectInserter(info storage.TableInfo) BulkInserter {
	if info.HasPrimaryKey() {
		return MappedBatch{}
	}
	return StatementBatch{}
}

// MappedBatch binds records to table columns by name and submits each run of
// records that share a key set through the backend's batched driver path.
// It requires a primary key.
type MappedBatch struct{}

func (MappedBatch) Path() string { return PathMapped }

func (MappedBatch) Insert(ctx context.Context, sess storage.Session, info storage.TableInfo, rows []record.Record) (int64, error) {
	if !info.HasPrimaryKey() {
		return 0, fmt.Errorf("%w: %s", ErrMissingPrimaryKey, info.Ref)
	}

	var total int64
	for start := 0; start < len(rows); {
		sig := record.KeySignature(rows[start])
		end := start + 1
		for end < len(rows) && record.KeySignature(rows[end]) == sig {
			end++
		}

		keys := rows[start].Keys()
		cols, err := mapColumns(info, keys)
		if err != nil {
			return total, err
		}
		n, err := sess.BulkInsert(ctx, info.Ref, cols, rowValues(rows[start:end], keys))
		total += n
		if err != nil {
			return total, err
		}
		start = end
	}
	return total, nil
}

// StatementBatch writes every record with one parameterized multi-row INSERT
// over the union of record keys. Absent keys are written as NULL.
type StatementBatch struct{}

func (StatementBatch) Path() string { return PathStatement }

func (StatementBatch) Insert(ctx context.Context, sess storage.Session, info storage.TableInfo, rows []record.Record) (int64, error) {
	keys := record.KeyUnion(rows)
	cols, err := mapColumns(info, keys)
	if err != nil {
		return 0, err
	}
	return sess.InsertRows(ctx, info.Ref, cols, rowValues(rows, keys))
}

// mapColumns resolves keys against the table's columns.
func mapColumns(info storage.TableInfo, keys []string) ([]storage.Column, error) {
	cols := make([]storage.Column, len(keys))
	for i, k := range keys {
		c, ok := info.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrInsertFailed, info.Ref, k)
		}
		cols[i] = c
	}
	return cols, nil
}

func rowValues(rows []record.Record, keys []string) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, len(keys))
		for j, k := range keys {
			if v, ok := r.Get(k); ok && !record.IsMissing(v) {
				vals[j] = v
			}
		}
		out[i] = vals
	}
	return out
}

// InsertDispatcher inserts record batches into existing tables.
type InsertDispatcher struct {
	backend storage.Backend
	log     *slog.Logger
}

func NewInsertDispatcher(backend storage.Backend, log *slog.Logger) *InsertDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &InsertDispatcher{backend: backend, log: log}
}

// InsertRecords writes rows into ref in one transaction. Either every row is
// committed or none is.
//
// Errors:
//   - ErrInsertFailed wrapping the backend error, including a missing table,
//     a key that is not a column, or a constraint violation.
//   - ErrMissingPrimaryKey is only possible when MappedBatch is used directly.
func (d *InsertDispatcher) InsertRecords(ctx context.Context, ref storage.TableRef, rows []record.Record) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("insert_records", start, err) }()

	sess, err := d.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrInsertFailed, err)
	}
	defer sess.Rollback(ctx)

	if err = d.insertInSession(ctx, sess, ref, rows); err != nil {
		return err
	}
	if err = sess.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrInsertFailed, ref, err)
	}
	return nil
}

func (d *InsertDispatcher) insertInSession(ctx context.Context, sess storage.Session, ref storage.TableRef, rows []record.Record) error {
	info, err := sess.DescribeTable(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: describe %s: %w", ErrInsertFailed, ref, err)
	}
	if len(rows) == 0 {
		return nil
	}

	ins := SelectInserter(info)
	started := time.Now()
	n, err := ins.Insert(ctx, sess, info, rows)
	if err != nil {
		if errors.Is(err, ErrInsertFailed) || errors.Is(err, ErrMissingPrimaryKey) {
			return err
		}
		return fmt.Errorf("%w: %s via %s path: %w", ErrInsertFailed, ref, ins.Path(), err)
	}

	metrics.IncCounter(metrics.RecordsTotal, float64(n), metrics.Labels{"path": ins.Path()})
	d.log.Debug("inserted records",
		"table", ref.String(),
		"path", ins.Path(),
		"rows", n,
		"duration", time.Since(started).Truncate(time.Millisecond),
	)
	return nil
}
