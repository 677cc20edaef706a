package csv

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"autotable/internal/parser"
)

func collect(t *testing.T, input string, opt Options) ([]parser.Row, []int, error) {
	t.Helper()
	out := make(chan parser.Row, 64)
	var errLines []int
	err := StreamRecords(context.Background(), strings.NewReader(input), opt, out, func(line int, _ error) {
		errLines = append(errLines, line)
	})
	close(out)
	var rows []parser.Row
	for r := range out {
		rows = append(rows, r)
	}
	return rows, errLines, err
}

func TestStreamRecords_HeaderNormalizationAndEmptyCells(t *testing.T) {
	t.Parallel()

	input := "﻿ First Name ,Age,Mapped Col\n Ann ,,x\nBo,40,y\n"
	opt := DefaultOptions()
	opt.HeaderMap = map[string]string{"Mapped Col": "m"}

	rows, errLines, err := collect(t, input, opt)
	require.NoError(t, err)
	require.Empty(t, errLines)
	require.Len(t, rows, 2)

	require.Equal(t, 2, rows[0].Line)
	require.Equal(t, []string{"first_name", "age", "m"}, rows[0].Record.Keys())
	require.Equal(t, map[string]any{"first_name": "Ann", "age": nil, "m": "x"}, rows[0].Record.Map())
	require.Equal(t, "40", rows[1].Record.Map()["age"], "no coercion unless asked")
}

func TestStreamRecords_NoHeaderUsesDeclaredOrPositionalNames(t *testing.T) {
	t.Parallel()

	opt := Options{Comma: ';'}
	opt.Columns = []string{"a", "b"}
	rows, _, err := collect(t, "1;2\n", opt)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, rows[0].Record.Keys())
	require.Equal(t, 1, rows[0].Line)

	rows, _, err = collect(t, "1;2;3\n", Options{Comma: ';'})
	require.NoError(t, err)
	require.Equal(t, []string{"column_1", "column_2", "column_3"}, rows[0].Record.Keys())
}

func TestStreamRecords_ProjectsColumns(t *testing.T) {
	t.Parallel()

	opt := DefaultOptions()
	opt.Columns = []string{"c", "a"}
	rows, _, err := collect(t, "a,b,c\n1,2,3\n", opt)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, rows[0].Record.Keys())
}

func TestStreamRecords_BadLineIsReportedAndSkipped(t *testing.T) {
	t.Parallel()

	opt := DefaultOptions()
	rows, errLines, err := collect(t, "a,b\n1,2\n\"broken,3\n", opt)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotEmpty(t, errLines)
}

func TestStreamRecords_FieldsPerRecordEnforced(t *testing.T) {
	t.Parallel()

	opt := DefaultOptions()
	opt.FieldsPerRecord = 2
	rows, errLines, err := collect(t, "a,b\n1,2\n1,2,3\n4,5\n", opt)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []int{3}, errLines)
}

func TestStreamRecords_Charset(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := charmap.Windows1250.NewEncoder().Writer(&buf)
	_, err := w.Write([]byte("město\nPlzeň\n"))
	require.NoError(t, err)

	opt := DefaultOptions()
	opt.Charset = "windows-1250"
	rows, _, err := collect(t, buf.String(), opt)
	require.NoError(t, err)
	require.Equal(t, "Plzeň", rows[0].Record.Map()["město"])

	opt.Charset = "no-such-charset"
	_, _, err = collect(t, "a\n", opt)
	require.Error(t, err)
}

func TestStreamRecords_Coerce(t *testing.T) {
	t.Parallel()

	opt := DefaultOptions()
	opt.Coerce = true
	rows, _, err := collect(t, "i,f,b,d,ts,s\n7,1.5,yes,2024-01-02,2024-01-02 03:04:05,hello\n", opt)
	require.NoError(t, err)
	got := rows[0].Record.Map()

	require.Equal(t, int64(7), got["i"])
	require.Equal(t, 1.5, got["f"])
	require.Equal(t, true, got["b"])
	require.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 2}, got["d"])
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got["ts"])
	require.Equal(t, "hello", got["s"])
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"-3", int64(-3)},
		{"0.25", 0.25},
		{"NaN", "NaN"},
		{"inf", "inf"},
		{"F", false},
		{"02.01.2006", civil.Date{Year: 2006, Month: 1, Day: 2}},
		{"2024-05-06T07:08:09Z", time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)},
		{"abc", "abc"},
	}
	for _, tc := range cases {
		if got := Coerce(tc.in); got != tc.want {
			t.Fatalf("Coerce(%q)=%#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestStreamRecords_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan parser.Row)
	err := StreamRecords(ctx, strings.NewReader("a\n1\n"), DefaultOptions(), out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
