package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"autotable/internal/semtype"
	"autotable/internal/storage"
)

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func tableIdent(ref storage.TableRef) string {
	if ref.Schema == "" {
		return sqlIdent(ref.Name)
	}
	return sqlIdent(ref.Schema) + "." + sqlIdent(ref.Name)
}

func schemaName(s string) string {
	if s == "" {
		return "main"
	}
	return s
}

func (s *session) TableNames(ctx context.Context, schema string) ([]string, error) {
	q := fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%' ORDER BY name`,
		sqlIdent(schemaName(schema)),
	)
	var names []string
	if err := s.tx.SelectContext(ctx, &names, q); err != nil {
		return nil, fmt.Errorf("sqlite: list tables: %w", err)
	}
	return names, nil
}

type tableInfoRow struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull bool           `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

func (s *session) DescribeTable(ctx context.Context, ref storage.TableRef) (storage.TableInfo, error) {
	var rows []tableInfoRow
	err := s.tx.SelectContext(ctx, &rows,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?, ?) ORDER BY cid`,
		ref.Name, schemaName(ref.Schema),
	)
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("sqlite: describe %s: %w", ref, err)
	}
	if len(rows) == 0 {
		return storage.TableInfo{}, fmt.Errorf("%w: %s", storage.ErrTableNotFound, ref)
	}
	return buildTableInfo(ref, rows), nil
}

func buildTableInfo(ref storage.TableRef, rows []tableInfoRow) storage.TableInfo {
	info := storage.TableInfo{Ref: ref}
	var pk []tableInfoRow
	for _, r := range rows {
		col := storage.Column{
			Name:       r.Name,
			Type:       DefaultTypes.Semantic(r.Type),
			NativeType: r.Type,
			Nullable:   !r.NotNull && r.PK == 0,
			PrimaryKey: r.PK > 0,
			Position:   r.CID,
		}
		if r.Default.Valid {
			d := r.Default.String
			col.Default = &d
		}
		info.Columns = append(info.Columns, col)
		if r.PK > 0 {
			pk = append(pk, r)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PK < pk[j].PK })
	for _, r := range pk {
		info.PrimaryKey = append(info.PrimaryKey, r.Name)
	}
	// A single INTEGER primary key aliases the rowid and is assigned on insert.
	if len(pk) == 1 && strings.EqualFold(strings.TrimSpace(pk[0].Type), "INTEGER") {
		for i := range info.Columns {
			if info.Columns[i].Name == pk[0].Name {
				info.Columns[i].Autoincrement = true
			}
		}
	}
	return info
}
