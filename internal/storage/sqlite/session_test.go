package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/require"

	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

func openMemory(t *testing.T) storage.Backend {
	t.Helper()
	b, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func begin(t *testing.T, b storage.Backend) storage.Session {
	t.Helper()
	s, err := b.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Rollback(context.Background()) })
	return s
}

var usersSpec = storage.TableSpec{
	Ref: storage.TableRef{Name: "users"},
	Columns: []storage.Column{
		{Name: "id", Type: semtype.Integer, PrimaryKey: true, Autoincrement: true},
		{Name: "name", Type: semtype.Text, NativeType: "TEXT", Nullable: true},
		{Name: "born", Type: semtype.Date, NativeType: "DATE", Nullable: true},
		{Name: "tags", Type: semtype.List, NativeType: "JSON_LIST", Nullable: true},
	},
	PrimaryKey: []string{"id"},
}

func TestSession_CreateDescribeList(t *testing.T) {
	ctx := context.Background()
	s := begin(t, openMemory(t))

	require.NoError(t, s.CreateTable(ctx, usersSpec))

	names, err := s.TableNames(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, names)

	info, err := s.DescribeTable(ctx, storage.TableRef{Name: "users"})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "born", "tags"}, info.ColumnNames())
	require.Equal(t, []string{"id"}, info.PrimaryKey)

	id, ok := info.Column("id")
	require.True(t, ok)
	require.True(t, id.Autoincrement)
	require.Equal(t, semtype.Integer, id.Type)

	born, _ := info.Column("born")
	require.Equal(t, semtype.Date, born.Type)
	require.True(t, born.Nullable)
}

func TestSession_DescribeMissingTable(t *testing.T) {
	s := begin(t, openMemory(t))

	_, err := s.DescribeTable(context.Background(), storage.TableRef{Name: "nope"})
	require.ErrorIs(t, err, storage.ErrTableNotFound)

	err = s.DropTable(context.Background(), storage.TableRef{Name: "nope"})
	require.True(t, errors.Is(err, storage.ErrTableNotFound))
}

func TestSession_InsertPathsAndSelect(t *testing.T) {
	ctx := context.Background()
	s := begin(t, openMemory(t))
	require.NoError(t, s.CreateTable(ctx, usersSpec))

	ref := storage.TableRef{Name: "users"}
	info, err := s.DescribeTable(ctx, ref)
	require.NoError(t, err)
	cols := []storage.Column{info.Columns[1], info.Columns[2], info.Columns[3]}

	n, err := s.BulkInsert(ctx, ref, cols, [][]any{
		{"ada", civil.Date{Year: 1815, Month: 12, Day: 10}, []any{"math"}},
		{"alan", nil, nil},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = s.InsertRows(ctx, ref, cols[:1], [][]any{{"grace"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rows, err := s.SelectRows(ctx, ref, []string{"id"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	var ids []any
	for _, r := range rows {
		v, _ := r.Get("id")
		ids = append(ids, v)
	}
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, ids)

	born, _ := rows[0].Get("born")
	require.Equal(t, civil.Date{Year: 1815, Month: 12, Day: 10}, born)
	tags, _ := rows[0].Get("tags")
	require.Equal(t, []any{"math"}, tags)
	name, _ := rows[2].Get("name")
	require.Equal(t, "grace", name)
}

func TestSession_InsertDefaultValues(t *testing.T) {
	ctx := context.Background()
	s := begin(t, openMemory(t))
	require.NoError(t, s.CreateTable(ctx, usersSpec))

	n, err := s.InsertRows(ctx, storage.TableRef{Name: "users"}, nil, [][]any{{}, {}})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	out, err := s.Query(ctx, `SELECT COUNT(*) AS n FROM users`)
	require.NoError(t, err)
	v, _ := out[0].Get("n")
	require.Equal(t, int64(2), v)
}

func TestSession_RollbackDiscardsDDL(t *testing.T) {
	ctx := context.Background()
	b := openMemory(t)

	s, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(ctx, usersSpec))
	require.NoError(t, s.Rollback(ctx))
	require.NoError(t, s.Rollback(ctx), "second rollback is a no-op")

	s2 := begin(t, b)
	names, err := s2.TableNames(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestSession_QueryPreservesColumnOrder(t *testing.T) {
	s := begin(t, openMemory(t))

	out, err := s.Query(context.Background(), `SELECT 1 AS z, 'x' AS a`)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"z", "a"}, out[0].Keys())
	require.Equal(t, record.Of("z", int64(1), "a", "x").Map(), out[0].Map())
}

func TestSession_BulkInsertSplitsAtParameterLimit(t *testing.T) {
	ctx := context.Background()
	s := begin(t, openMemory(t))

	spec := storage.TableSpec{
		Ref: storage.TableRef{Name: "wide"},
		Columns: []storage.Column{
			{Name: "k", Type: semtype.Integer, NativeType: "INTEGER", PrimaryKey: true},
			{Name: "v", Type: semtype.Text, NativeType: "TEXT", Nullable: true},
		},
		PrimaryKey: []string{"k"},
	}
	require.NoError(t, s.CreateTable(ctx, spec))

	n := maxParams/2 + 100
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), "v"}
	}
	got, err := s.BulkInsert(ctx, spec.Ref, spec.Columns, rows)
	require.NoError(t, err)
	require.Equal(t, int64(n), got)

	out, err := s.Query(ctx, `SELECT COUNT(*) AS n, MAX(k) AS hi FROM wide`)
	require.NoError(t, err)
	c, _ := out[0].Get("n")
	hi, _ := out[0].Get("hi")
	require.Equal(t, int64(n), c)
	require.Equal(t, int64(n), hi)
}
