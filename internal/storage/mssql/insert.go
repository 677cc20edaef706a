package mssql

import (
	"context"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"autotable/internal/record"
	"autotable/internal/storage"
)

// InsertRows runs multi-row INSERT statements, chunked to the parameter and
// row-constructor limits. All chunks share the session's transaction.
// Explicit values for an IDENTITY column are kept, as they are on the bulk
// path.
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

	identity := hasIdentity(cols)
	if identity {
		if err := s.setIdentityInsert(ctx, ref, true); err != nil {
			return 0, err
		}
	}

	var total int64
	for _, span := range storage.ChunkRows(len(encoded), len(cols), maxParams, maxRows) {
		q, args := buildBulkInsertSQL(ref, storage.ColumnNames(cols), encoded[span[0]:span[1]])
		res, err := s.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if identity {
		if err := s.setIdentityInsert(ctx, ref, false); err != nil {
			return total, err
		}
	}
	return total, nil
}

func hasIdentity(cols []storage.Column) bool {
	for _, c := range cols {
		if c.Autoincrement {
			return true
		}
	}
	return false
}

// setIdentityInsert toggles IDENTITY_INSERT. The setting is per connection,
// and the driver resets the connection before the pool reuses it.
func (s *session) setIdentityInsert(ctx context.Context, ref storage.TableRef, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	if _, err := s.tx.ExecContext(ctx, "SET IDENTITY_INSERT "+mssqlTableIdent(ref)+" "+state); err != nil {
		return fmt.Errorf("mssql: identity insert %s: %w", state, err)
	}
	return nil
}

func bulkOptions(cols []storage.Column) mssql.BulkOptions {
	return mssql.BulkOptions{KeepIdentity: hasIdentity(cols)}
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(ref storage.TableRef, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(ref))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
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
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// BulkInsert uses the TDS bulk-load protocol. Rows are buffered by the driver
// and sent when the statement is executed without arguments. Supplied IDENTITY
// values are kept rather than replaced by the server.
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

	stmt, err := s.tx.PrepareContext(ctx, mssql.CopyIn(mssqlTableIdent(ref), bulkOptions(cols), storage.ColumnNames(cols)...))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare bulk copy: %w", err)
	}
	defer stmt.Close()

	for _, row := range encoded {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, err
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *session) insertDefaults(ctx context.Context, ref storage.TableRef, n int) (int64, error) {
	q := "INSERT INTO " + mssqlTableIdent(ref) + " DEFAULT VALUES"
	for i := 0; i < n; i++ {
		if _, err := s.tx.ExecContext(ctx, q); err != nil {
			return int64(i), err
		}
	}
	return int64(n), nil
}

func encodeRows(cols []storage.Column, rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("mssql: row %d has %d values for %d columns", i, len(row), len(cols))
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
	q := "SELECT * FROM " + mssqlTableIdent(ref)
	if len(orderBy) > 0 {
		keys := make([]string, len(orderBy))
		for i, k := range orderBy {
			keys[i] = mssqlIdent(k)
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
				return nil, fmt.Errorf("mssql: read %s.%s: %w", ref, c.Name, err)
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
