package mssql

import (
	"context"
	"fmt"
	"strings"

	"autotable/internal/storage"
)

func (s *session) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	stmts, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := s.tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", spec.Ref, err)
		}
	}
	return nil
}

func (s *session) DropTable(ctx context.Context, ref storage.TableRef) error {
	rows, err := s.tx.QueryxContext(ctx, `SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END`, mssqlTableIdent(ref))
	if err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", ref, err)
	}
	exists := 0
	if rows.Next() {
		err = rows.Scan(&exists)
	}
	rows.Close()
	if err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", ref, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", storage.ErrTableNotFound, ref)
	}
	if _, err := s.tx.ExecContext(ctx, "DROP TABLE "+mssqlTableIdent(ref)); err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", ref, err)
	}
	return nil
}

// buildCreateSQL returns an optional schema guard followed by CREATE TABLE.
// CREATE SCHEMA must be alone in its batch, hence the EXEC.
func buildCreateSQL(spec storage.TableSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var out []string
	if spec.Ref.Schema != "" {
		lit := strings.ReplaceAll(spec.Ref.Schema, "'", "''")
		ddl := strings.ReplaceAll("CREATE SCHEMA "+mssqlIdent(spec.Ref.Schema), "'", "''")
		out = append(out, fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'%s');", lit, ddl))
	}

	defs := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return nil, fmt.Errorf("mssql: table %s: %w", spec.Ref, err)
		}
		defs = append(defs, def)
	}
	if len(spec.PrimaryKey) > 0 {
		keys := make([]string, len(spec.PrimaryKey))
		for i, k := range spec.PrimaryKey {
			keys[i] = mssqlIdent(k)
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)",
			mssqlIdent("PK_"+spec.Ref.Name), strings.Join(keys, ", ")))
	}

	out = append(out, fmt.Sprintf("CREATE TABLE %s (%s);", mssqlTableIdent(spec.Ref), strings.Join(defs, ", ")))
	return out, nil
}

// mssqlColumnDef builds a SQL Server column definition. Autoincrement columns
// become BIGINT IDENTITY(1,1).
func mssqlColumnDef(c storage.Column) (string, error) {
	if c.Autoincrement {
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) NOT NULL", mssqlIdent(c.Name)), nil
	}

	typ := strings.TrimSpace(c.NativeType)
	if typ == "" {
		n, err := DefaultTypes.Native(c.Type)
		if err != nil {
			return "", err
		}
		typ = n
	}
	// Key columns cannot be MAX types.
	if c.PrimaryKey && strings.EqualFold(typ, "NVARCHAR(MAX)") {
		typ = "NVARCHAR(450)"
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable || c.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if c.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.Default)
	}
	return b.String(), nil
}
