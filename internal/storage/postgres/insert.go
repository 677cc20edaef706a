package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"autotable/internal/record"
	"autotable/internal/storage"
)

// InsertRows performs multi-row INSERTs, split only at the bind-parameter
// limit. All statements run in the session's transaction.
func (s *session) InsertRows(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cols) == 0 {
		return s.insertDefaults(ctx, ref, len(rows))
	}

	encoded, err := encodeRows(cols, rows)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, span := range storage.ChunkRows(len(encoded), len(cols), maxParams, 0) {
		q, args := buildInsertSQL(tableIdent(ref), storage.ColumnNames(cols), encoded[span[0]:span[1]])
		tag, err := s.tx.Exec(ctx, q, args...)
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL constructs a multi-row INSERT statement and flattens args.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// BulkInsert streams rows with COPY FROM.
func (s *session) BulkInsert(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cols) == 0 {
		return s.insertDefaults(ctx, ref, len(rows))
	}
	encoded, err := encodeRows(cols, rows)
	if err != nil {
		return 0, err
	}
	return s.tx.CopyFrom(ctx, copyIdent(ref), storage.ColumnNames(cols), pgx.CopyFromRows(encoded))
}

func (s *session) insertDefaults(ctx context.Context, ref storage.TableRef, n int) (int64, error) {
	q := "INSERT INTO " + tableIdent(ref) + " DEFAULT VALUES"
	for i := 0; i < n; i++ {
		if _, err := s.tx.Exec(ctx, q); err != nil {
			return int64(i), err
		}
	}
	return int64(n), nil
}

func encodeRows(cols []storage.Column, rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("postgres: row %d has %d values for %d columns", i, len(row), len(cols))
		}
		enc := make([]any, len(row))
		for j, v := range row {
			e, err := encodeValue(v, cols[j])
			if err != nil {
				return nil, err
			}
			enc[j] = e
		}
		out[i] = enc
	}
	return out, nil
}

func (s *session) SelectRows(ctx context.Context, ref storage.TableRef, orderBy []string) ([]record.Record, error) {
	info, err := s.DescribeTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	q := "SELECT * FROM " + tableIdent(ref)
	if len(orderBy) > 0 {
		keys := make([]string, len(orderBy))
		for i, k := range orderBy {
			keys[i] = pgIdent(k)
		}
		q += " ORDER BY " + strings.Join(keys, ", ")
	}
	out, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		for _, c := range info.Columns {
			v, _ := r.Get(c.Name)
			r.Set(c.Name, decodeValue(v, c))
		}
	}
	return out, nil
}

func (s *session) Query(ctx context.Context, query string, args ...any) ([]record.Record, error) {
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []record.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := record.New()
		for i, f := range fields {
			r.Set(f.Name, vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
