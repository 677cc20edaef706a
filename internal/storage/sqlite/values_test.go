package sqlite

import (
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

func TestParseSQLiteTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantUTC string
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", wantUTC: "2026-01-27T12:17:08.123456789Z"},
		{name: "rfc3339", in: "2026-01-27T12:17:08Z", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz", in: "2026-01-27 12:17:08+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz_nanos", in: "2026-01-27 12:17:08.000000000+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_no_tz_assume_utc", in: "2026-01-27 12:17:08", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "invalid", in: "not-a-time", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSQLiteTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSQLiteTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			want, _ := time.Parse(time.RFC3339Nano, tt.wantUTC)
			if !got.Equal(want) {
				t.Fatalf("got=%s want=%s", got.Format(time.RFC3339Nano), want.Format(time.RFC3339Nano))
			}
		})
	}
}

func TestFormatSQLiteTime_RoundTrip(t *testing.T) {
	t.Parallel()
	in := time.Date(2026, 1, 27, 12, 17, 8, 123, time.FixedZone("X", 3600))
	got, err := parseSQLiteTime(formatSQLiteTime(in))
	if err != nil {
		t.Fatalf("parseSQLiteTime(formatSQLiteTime()) err=%v", err)
	}
	if !got.Equal(in) {
		t.Fatalf("round trip mismatch: got=%s want=%s", got.UTC(), in.UTC())
	}
}

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	col := storage.Column{Name: "c"}
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{record.Missing, nil},
		{civil.Date{Year: 2024, Month: 3, Day: 9}, "2024-03-09"},
		{civil.Time{Hour: 7, Minute: 5}, "07:05:00"},
		{decimal.RequireFromString("12.50"), "12.5"},
		{time.Duration(1500), int64(1500)},
		{[]any{1, "a"}, `[1,"a"]`},
		{record.Of("b", 1, "a", 2), `{"b":1,"a":2}`},
		{uint64(3), int64(3)},
		{"x", "x"},
	}
	for _, tc := range cases {
		got, err := encodeValue(tc.in, col)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%#v", tc.in)
	}

	_, err := encodeValue(struct{}{}, col)
	require.Error(t, err)
}

func TestDecodeValue(t *testing.T) {
	t.Parallel()

	v, err := decodeValue(int64(1), storage.Column{Type: semtype.Boolean})
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = decodeValue("2024-03-09", storage.Column{Type: semtype.Date})
	require.NoError(t, err)
	require.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 9}, v)

	v, err = decodeValue(int64(time.Second), storage.Column{Type: semtype.Duration})
	require.NoError(t, err)
	require.Equal(t, time.Second, v)

	v, err = decodeValue(`{"b":1,"a":[true]}`, storage.Column{Type: semtype.Mapping})
	require.NoError(t, err)
	r, ok := v.(record.Record)
	require.True(t, ok)
	require.Equal(t, []string{"b", "a"}, r.Keys())

	v, err = decodeValue("plain", storage.Column{Type: semtype.Text})
	require.NoError(t, err)
	require.Equal(t, "plain", v)
}
