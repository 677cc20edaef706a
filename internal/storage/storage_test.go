package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"autotable/internal/record"
	"autotable/internal/semtype"
)

type fakeBackend struct{ kind string }

func (f *fakeBackend) Kind() string                              { return f.kind }
func (f *fakeBackend) TypeMap() *TypeMap                         { return nil }
func (f *fakeBackend) Begin(ctx context.Context) (Session, error) { return nil, errors.New("no sessions") }
func (f *fakeBackend) Close()                                    {}

func TestRegisterAndOpen(t *testing.T) {
	Register("fake-open", func(ctx context.Context, cfg Config) (Backend, error) {
		return &fakeBackend{kind: cfg.Kind}, nil
	})

	b, err := Open(context.Background(), Config{Kind: "fake-open", DSN: "x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Kind() != "fake-open" {
		t.Fatalf("expected kind fake-open, got %q", b.Kind())
	}
	require.Contains(t, Kinds(), "fake-open")
}

func TestOpen_RejectsUnknownAndEmptyKinds(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := Open(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRegister_Panics(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Backend, error) { return nil, nil }
	Register("fake-dup", f)

	require.Panics(t, func() { Register("fake-dup", f) })
	require.Panics(t, func() { Register("", f) })
	require.Panics(t, func() { Register("fake-nil", nil) })
}

func TestTableSpecValidate(t *testing.T) {
	t.Parallel()

	ok := TableSpec{
		Ref: TableRef{Name: "t"},
		Columns: []Column{
			{Name: "id", Type: semtype.Integer, PrimaryKey: true, Autoincrement: true},
			{Name: "name", Type: semtype.Text, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
	require.NoError(t, ok.Validate())

	bad := []TableSpec{
		{Ref: TableRef{Name: ""}, Columns: ok.Columns},
		{Ref: TableRef{Name: "t"}},
		{Ref: TableRef{Name: "t"}, Columns: []Column{{Name: "a"}, {Name: "a"}}},
		{Ref: TableRef{Name: "t"}, Columns: []Column{{Name: "a"}}, PrimaryKey: []string{"b"}},
		{Ref: TableRef{Name: "t"}, Columns: []Column{{Name: "a", Autoincrement: true}}},
		{
			Ref:        TableRef{Name: "t"},
			Columns:    []Column{{Name: "a", Autoincrement: true}, {Name: "b", Autoincrement: true}},
			PrimaryKey: []string{"a", "b"},
		},
	}
	for i, s := range bad {
		require.Error(t, s.Validate(), "case %d", i)
	}
}

func TestParseTableRef(t *testing.T) {
	t.Parallel()

	require.Equal(t, TableRef{Name: "t"}, ParseTableRef("t"))
	require.Equal(t, TableRef{Schema: "dbo", Name: "t"}, ParseTableRef(" dbo.t "))
	require.Equal(t, "dbo.t", TableRef{Schema: "dbo", Name: "t"}.String())
}

func TestParseExistencePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseExistencePolicy("")
	require.NoError(t, err)
	require.Equal(t, IfExistsError, p)
	p, err = ParseExistencePolicy("Replace")
	require.NoError(t, err)
	require.Equal(t, IfExistsReplace, p)
	_, err = ParseExistencePolicy("append")
	require.Error(t, err)
}

func TestTypeMap(t *testing.T) {
	t.Parallel()

	m := NewTypeMap(map[semtype.Type]string{
		semtype.Integer:  "BIGINT",
		semtype.Duration: "BIGINT",
		semtype.Text:     "NVARCHAR(MAX)",
	}, map[string]semtype.Type{"varchar": semtype.Text})

	n, err := m.Native(semtype.Integer)
	require.NoError(t, err)
	require.Equal(t, "BIGINT", n)

	_, err = m.Native(semtype.Bytes)
	require.ErrorIs(t, err, ErrUnsupportedType)

	require.Equal(t, semtype.Integer, m.Semantic("bigint"))
	require.Equal(t, semtype.Text, m.Semantic("nvarchar"))
	require.Equal(t, semtype.Text, m.Semantic("VARCHAR(20)"))
	require.Equal(t, semtype.Unknown, m.Semantic("geometry"))

	m2 := m.With(semtype.Bytes, "VARBINARY(MAX)").Without(semtype.Text)
	_, err = m2.Native(semtype.Text)
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = m.Native(semtype.Text)
	require.NoError(t, err, "original map must be unchanged")
	n, err = m2.Native(semtype.Bytes)
	require.NoError(t, err)
	require.Equal(t, "VARBINARY(MAX)", n)
}

func TestChunkRows(t *testing.T) {
	t.Parallel()

	require.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 7}}, ChunkRows(7, 2, 6, 0))
	require.Equal(t, [][2]int{{0, 2}, {2, 4}}, ChunkRows(4, 1, 100, 2))
	require.Equal(t, [][2]int{{0, 5}}, ChunkRows(5, 0, 10, 0))
	require.Nil(t, ChunkRows(0, 3, 10, 0))
}

func TestEncodeJSONKeepsRecordOrder(t *testing.T) {
	t.Parallel()

	b, err := EncodeJSON(record.Of("z", 1, "a", []any{1, "x"}))
	require.NoError(t, err)
	require.Equal(t, `{"z":1,"a":[1,"x"]}`, string(b))

	b, err = EncodeJSON([]string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, `["a","b"]`, string(b))

	require.True(t, IsNull(nil))
	require.True(t, IsNull(record.Missing))
	require.False(t, IsNull(0))
}
