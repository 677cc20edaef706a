package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"autotable/internal/storage"
)

// pgIdent quotes an identifier, doubling embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func tableIdent(ref storage.TableRef) string {
	if ref.Schema == "" {
		return pgIdent(ref.Name)
	}
	return pgIdent(ref.Schema) + "." + pgIdent(ref.Name)
}

func copyIdent(ref storage.TableRef) pgx.Identifier {
	if ref.Schema == "" {
		return pgx.Identifier{ref.Name}
	}
	return pgx.Identifier{ref.Schema, ref.Name}
}

// An empty schema resolves to current_schema() on the server.
const schemaExpr = `COALESCE(NULLIF($1, ''), current_schema())`

const listTablesSQL = `SELECT table_name FROM information_schema.tables
WHERE table_schema = ` + schemaExpr + ` AND table_type = 'BASE TABLE'
ORDER BY table_name`

const describeColumnsSQL = `SELECT column_name, data_type, is_nullable = 'YES', column_default,
       is_identity = 'YES' OR COALESCE(column_default, '') LIKE 'nextval(%', ordinal_position
FROM information_schema.columns
WHERE table_schema = ` + schemaExpr + ` AND table_name = $2
ORDER BY ordinal_position`

const describePrimaryKeySQL = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
 AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = ` + schemaExpr + `
  AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

func (s *session) TableNames(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.tx.Query(ctx, listTablesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	return names, nil
}

func (s *session) DescribeTable(ctx context.Context, ref storage.TableRef) (storage.TableInfo, error) {
	rows, err := s.tx.Query(ctx, describeColumnsSQL, ref.Schema, ref.Name)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("postgres: describe %s: %w", ref, err)
	}
	info := storage.TableInfo{Ref: ref}
	for rows.Next() {
		var (
			c    storage.Column
			def  *string
			pos  int32
			auto bool
		)
		if err := rows.Scan(&c.Name, &c.NativeType, &c.Nullable, &def, &auto, &pos); err != nil {
			rows.Close()
			return storage.TableInfo{}, fmt.Errorf("postgres: describe %s: %w", ref, err)
		}
		c.Type = DefaultTypes.Semantic(c.NativeType)
		c.Default = def
		c.Autoincrement = auto
		c.Position = int(pos)
		info.Columns = append(info.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storage.TableInfo{}, fmt.Errorf("postgres: describe %s: %w", ref, err)
	}
	if len(info.Columns) == 0 {
		return storage.TableInfo{}, fmt.Errorf("%w: %s", storage.ErrTableNotFound, ref)
	}

	pkRows, err := s.tx.Query(ctx, describePrimaryKeySQL, ref.Schema, ref.Name)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("postgres: describe %s primary key: %w", ref, err)
	}
	pk, err := pgx.CollectRows(pkRows, pgx.RowTo[string])
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("postgres: describe %s primary key: %w", ref, err)
	}
	markPrimaryKey(&info, pk)
	return info, nil
}

func markPrimaryKey(info *storage.TableInfo, pk []string) {
	info.PrimaryKey = pk
	in := make(map[string]bool, len(pk))
	for _, k := range pk {
		in[k] = true
	}
	for i := range info.Columns {
		if in[info.Columns[i].Name] {
			info.Columns[i].PrimaryKey = true
			info.Columns[i].Nullable = false
		}
	}
}
