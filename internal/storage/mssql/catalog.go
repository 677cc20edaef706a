package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"autotable/internal/storage"
)

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns [schema].[table], or [table] without a schema.
func mssqlTableIdent(ref storage.TableRef) string {
	if ref.Schema == "" {
		return mssqlIdent(ref.Name)
	}
	return mssqlIdent(ref.Schema) + "." + mssqlIdent(ref.Name)
}

// An empty schema resolves to the caller's default schema.
const schemaExpr = `COALESCE(NULLIF(@p1, ''), SCHEMA_NAME())`

const listTablesSQL = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ` +
	schemaExpr + ` ORDER BY TABLE_NAME`

const describeColumnsSQL = `SELECT c.COLUMN_NAME, c.DATA_TYPE,
 CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
 c.COLUMN_DEFAULT,
 COALESCE(COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity'), 0),
 c.ORDINAL_POSITION
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = ` + schemaExpr + ` AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`

const describePrimaryKeySQL = `SELECT kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
  ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
 AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA
 AND kcu.TABLE_NAME = tc.TABLE_NAME
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = ` + schemaExpr + ` AND tc.TABLE_NAME = @p2
ORDER BY kcu.ORDINAL_POSITION`

func (s *session) TableNames(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.tx.QueryxContext(ctx, listTablesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("mssql: list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("mssql: list tables: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *session) DescribeTable(ctx context.Context, ref storage.TableRef) (storage.TableInfo, error) {
	info := storage.TableInfo{Ref: ref}

	rows, err := s.tx.QueryxContext(ctx, describeColumnsSQL, ref.Schema, ref.Name)
	if err != nil {
		return info, fmt.Errorf("mssql: describe %s: %w", ref, err)
	}
	for rows.Next() {
		var (
			c        storage.Column
			nullable int
			def      sql.NullString
			identity int
			pos      int
		)
		if err := rows.Scan(&c.Name, &c.NativeType, &nullable, &def, &identity, &pos); err != nil {
			rows.Close()
			return info, fmt.Errorf("mssql: describe %s: %w", ref, err)
		}
		c.Type = DefaultTypes.Semantic(c.NativeType)
		c.Nullable = nullable == 1
		c.Autoincrement = identity == 1
		c.Position = pos
		if def.Valid {
			d := def.String
			c.Default = &d
		}
		info.Columns = append(info.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return info, fmt.Errorf("mssql: describe %s: %w", ref, err)
	}
	if len(info.Columns) == 0 {
		return storage.TableInfo{}, fmt.Errorf("%w: %s", storage.ErrTableNotFound, ref)
	}

	pkRows, err := s.tx.QueryxContext(ctx, describePrimaryKeySQL, ref.Schema, ref.Name)
	if err != nil {
		return info, fmt.Errorf("mssql: describe %s primary key: %w", ref, err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return info, fmt.Errorf("mssql: describe %s primary key: %w", ref, err)
		}
		info.PrimaryKey = append(info.PrimaryKey, name)
	}
	if err := pkRows.Err(); err != nil {
		return info, err
	}
	for i := range info.Columns {
		for _, k := range info.PrimaryKey {
			if info.Columns[i].Name == k {
				info.Columns[i].PrimaryKey = true
			}
		}
	}
	return info, nil
}
