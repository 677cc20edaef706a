package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"autotable/internal/record"
	"autotable/internal/storage"
)

// InsertRows inserts rows with multi-row INSERT ... VALUES statements, split
// only when the bind-parameter limit would be exceeded.
func (s *session) InsertRows(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cols) == 0 {
		return s.insertDefaults(ctx, ref, len(rows))
	}

	var total int64
	for _, span := range storage.ChunkRows(len(rows), len(cols), maxParams, 0) {
		q, args, err := buildInsertSQL(ref, cols, rows[span[0]:span[1]])
		if err != nil {
			return total, err
		}
		res, err := s.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func buildInsertSQL(ref storage.TableRef, cols []storage.Column, rows [][]any) (string, []any, error) {
	colList := make([]string, 0, len(cols))
	for _, c := range cols {
		colList = append(colList, sqlIdent(c.Name))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(cols)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(ref))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if len(row) != len(cols) {
			return "", nil, fmt.Errorf("sqlite: row %d has %d values for %d columns", i, len(row), len(cols))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for j, v := range row {
			enc, err := encodeValue(v, cols[j])
			if err != nil {
				return "", nil, err
			}
			args = append(args, enc)
		}
	}
	return b.String(), args, nil
}

// BulkInsert binds rows as a batch of named arguments; sqlx expands the
// VALUES tuple once per row, so each chunk is a single statement. Parameters
// are named by position so column names never need escaping.
func (s *session) BulkInsert(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cols) == 0 {
		return s.insertDefaults(ctx, ref, len(rows))
	}

	q := buildNamedInsertSQL(ref, cols)
	var total int64
	for _, span := range storage.ChunkRows(len(rows), len(cols), maxParams, 0) {
		batch, err := namedArgs(cols, rows[span[0]:span[1]], span[0])
		if err != nil {
			return total, err
		}
		res, err := s.tx.NamedExecContext(ctx, q, batch)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func namedArgs(cols []storage.Column, rows [][]any, offset int) ([]map[string]any, error) {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("sqlite: row %d has %d values for %d columns", offset+i, len(row), len(cols))
		}
		arg := make(map[string]any, len(cols))
		for j, v := range row {
			enc, err := encodeValue(v, cols[j])
			if err != nil {
				return nil, err
			}
			arg[paramName(j)] = enc
		}
		out[i] = arg
	}
	return out, nil
}

func buildNamedInsertSQL(ref storage.TableRef, cols []storage.Column) string {
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		// sqlx treats any ':' as a parameter marker, even inside quotes.
		names[i] = strings.ReplaceAll(sqlIdent(c.Name), ":", "::")
		params[i] = ":" + paramName(i)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		strings.ReplaceAll(tableIdent(ref), ":", "::"),
		strings.Join(names, ", "),
		strings.Join(params, ", "),
	)
}

func paramName(i int) string { return "c" + strconv.Itoa(i) }

func (s *session) insertDefaults(ctx context.Context, ref storage.TableRef, n int) (int64, error) {
	q := "INSERT INTO " + tableIdent(ref) + " DEFAULT VALUES"
	for i := 0; i < n; i++ {
		if _, err := s.tx.ExecContext(ctx, q); err != nil {
			return int64(i), err
		}
	}
	return int64(n), nil
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
			keys[i] = sqlIdent(k)
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
			dec, err := decodeValue(v, c)
			if err != nil {
				return nil, fmt.Errorf("sqlite: read %s.%s: %w", ref, c.Name, err)
			}
			r.Set(c.Name, dec)
		}
	}
	return out, nil
}

func (s *session) Query(ctx context.Context, query string, args ...any) ([]record.Record, error) {
	rows, err := s.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sqlx.Rows) ([]record.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []record.Record
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		r := record.New()
		for i, c := range cols {
			r.Set(c, vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
