package postgres

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
		if _, err := s.tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Ref, err)
		}
	}
	return nil
}

func (s *session) DropTable(ctx context.Context, ref storage.TableRef) error {
	var exists bool
	err := s.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = `+schemaExpr+` AND table_name = $2)`,
		ref.Schema, ref.Name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrTableNotFound, ref)
	}
	if _, err := s.tx.Exec(ctx, "DROP TABLE "+tableIdent(ref)); err != nil {
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	return nil
}

// buildCreateSQL returns the statements that create spec's table: an
// optional CREATE SCHEMA for a schema-qualified name, then CREATE TABLE.
//
// Autoincrement columns become BIGINT identity columns; the primary key is a
// table-level constraint so composite keys work the same way.
func buildCreateSQL(spec storage.TableSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var out []string
	if spec.Ref.Schema != "" {
		out = append(out, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgIdent(spec.Ref.Schema)))
	}

	defs := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", spec.Ref, err)
		}
		defs = append(defs, def)
	}
	if len(spec.PrimaryKey) > 0 {
		keys := make([]string, len(spec.PrimaryKey))
		for i, k := range spec.PrimaryKey {
			keys[i] = pgIdent(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	out = append(out, fmt.Sprintf(`CREATE TABLE %s (%s)`, tableIdent(spec.Ref), strings.Join(defs, ", ")))
	return out, nil
}

// buildColumnDef renders a single column definition.
func buildColumnDef(c storage.Column) (string, error) {
	if c.Autoincrement {
		return fmt.Sprintf(`%s BIGINT GENERATED BY DEFAULT AS IDENTITY`, pgIdent(c.Name)), nil
	}

	typ := strings.TrimSpace(c.NativeType)
	if typ == "" {
		n, err := DefaultTypes.Native(c.Type)
		if err != nil {
			return "", err
		}
		typ = n
	}

	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
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
