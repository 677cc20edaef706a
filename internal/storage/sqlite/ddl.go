package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autotable/internal/storage"
)

func (s *session) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := s.tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Ref, err)
	}
	return nil
}

func (s *session) DropTable(ctx context.Context, ref storage.TableRef) error {
	if _, err := s.DescribeTable(ctx, ref); err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			return err
		}
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	if _, err := s.tx.ExecContext(ctx, "DROP TABLE "+tableIdent(ref)); err != nil {
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	return nil
}

// buildCreateTableSQL renders CREATE TABLE for spec.
//
// An autoincrement key must be the only primary key column: SQLite generates
// values only for an INTEGER PRIMARY KEY, which aliases the rowid. That column
// is declared inline; every other key uses a table-level PRIMARY KEY clause.
func buildCreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	inlinePK := ""
	for _, c := range spec.Columns {
		if !c.Autoincrement {
			continue
		}
		if len(spec.PrimaryKey) != 1 {
			return "", fmt.Errorf("sqlite: autoincrement column %q needs a single-column primary key", c.Name)
		}
		inlinePK = c.Name
	}

	parts := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		if c.Name == inlinePK {
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(c.Name)))
			continue
		}
		native := c.NativeType
		if native == "" {
			n, err := DefaultTypes.Native(c.Type)
			if err != nil {
				return "", err
			}
			native = n
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), native)
		if !c.Nullable || c.PrimaryKey {
			col += " NOT NULL"
		}
		if c.Default != nil {
			col += " DEFAULT " + *c.Default
		}
		parts = append(parts, col)
	}

	if inlinePK == "" && len(spec.PrimaryKey) > 0 {
		keys := make([]string, len(spec.PrimaryKey))
		for i, k := range spec.PrimaryKey {
			keys[i] = sqlIdent(k)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", tableIdent(spec.Ref), strings.Join(parts, ",\n  ")), nil
}
