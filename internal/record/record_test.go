package record

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestRecordKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	r := New()
	r.Set("b", 1).Set("a", 2).Set("c", 3)
	r.Set("b", 10)

	require.Equal(t, []string{"b", "a", "c"}, r.Keys())
	require.Equal(t, []any{10, 2, 3}, r.Values())
	v, ok := r.Get("b")
	require.True(t, ok)
	require.Equal(t, 10, v)
}

func TestZeroRecordIsUsable(t *testing.T) {
	t.Parallel()

	var r Record
	require.Equal(t, 0, r.Len())
	require.Empty(t, r.Keys())
	_, ok := r.Get("x")
	require.False(t, ok)

	r.Set("x", nil)
	require.True(t, r.Has("x"))
}

func TestFromMapSortsKeys(t *testing.T) {
	t.Parallel()

	r := FromMap(map[string]any{"z": 1, "a": 2, "m": 3})
	require.Equal(t, []string{"a", "m", "z"}, r.Keys())
}

func TestColumnsUsesFirstSeenOrderAndPadsMissing(t *testing.T) {
	t.Parallel()

	rows := []Record{
		Of("a", 1, "b", "x"),
		Of("c", true, "a", 2),
	}
	cols := Columns(rows, nil, Missing)

	require.Len(t, cols, 3)
	require.Equal(t, "a", cols[0].Name)
	require.Equal(t, []any{1, 2}, cols[0].Values)
	require.Equal(t, "b", cols[1].Name)
	require.Equal(t, []any{"x", Missing}, cols[1].Values)
	require.Equal(t, "c", cols[2].Name)
	require.Equal(t, []any{Missing, true}, cols[2].Values)
}

func TestColumnsHonoursDeclaredOrder(t *testing.T) {
	t.Parallel()

	rows := []Record{Of("a", 1, "b", 2)}
	cols := Columns(rows, []string{"b", "z"}, "--")

	require.Len(t, cols, 2)
	require.Equal(t, "b", cols[0].Name)
	require.Equal(t, []any{"--"}, cols[1].Values)
}

func TestWithoutDropsOnlySentinel(t *testing.T) {
	t.Parallel()

	in := []any{1, nil, Missing, "x", []any{1}}
	require.Equal(t, []any{1, nil, "x", []any{1}}, Without(in, Missing))
	require.Equal(t, []any{1, nil, Missing, []any{1}}, Without(in, "x"))
}

func TestUnmarshalJSONKeepsOrderAndNumbers(t *testing.T) {
	t.Parallel()

	var r Record
	err := json.Unmarshal([]byte(`{"z":1,"a":1.5,"n":{"y":true,"b":null},"l":[1,"x"]}`), &r)
	require.NoError(t, err)

	require.Equal(t, []string{"z", "a", "n", "l"}, r.Keys())
	z, _ := r.Get("z")
	require.Equal(t, int64(1), z)
	a, _ := r.Get("a")
	require.Equal(t, 1.5, a)
	n, _ := r.Get("n")
	nested, ok := n.(Record)
	require.True(t, ok)
	require.Equal(t, []string{"y", "b"}, nested.Keys())
	l, _ := r.Get("l")
	require.Equal(t, []any{int64(1), "x"}, l)
}

func TestMarshalJSONKeepsOrder(t *testing.T) {
	t.Parallel()

	b, err := Of("z", 1, "a", "x").MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"z":1,"a":"x"}`, string(b))
	require.Equal(t, `{"z":1,"a":"x"}`, string(b))
}

func TestKeySignature(t *testing.T) {
	t.Parallel()

	require.Equal(t, KeySignature(Of("a", 1, "b", 2)), KeySignature(Of("a", 3, "b", 4)))
	require.NotEqual(t, KeySignature(Of("a", 1, "b", 2)), KeySignature(Of("b", 2, "a", 1)))
}
