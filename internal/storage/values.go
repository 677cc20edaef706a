package storage

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-sql/civil"

	"autotable/internal/record"
)

// EncodeJSON renders a list or mapping value as JSON text. Records keep their
// field order.
func EncodeJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case record.Record:
		return t.MarshalJSON()
	case *record.Record:
		return t.MarshalJSON()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return b, nil
}

// IsNull reports whether v should be written as SQL NULL.
func IsNull(v any) bool {
	return v == nil || record.IsMissing(v)
}

// CivilToTime converts civil values to time.Time in UTC. ok is false for any
// other value.
func CivilToTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case civil.Date:
		return t.In(time.UTC), true
	case civil.DateTime:
		return t.In(time.UTC), true
	case civil.Time:
		return civil.DateTime{Date: civil.Date{Year: 1970, Month: 1, Day: 1}, Time: t}.In(time.UTC), true
	}
	return time.Time{}, false
}

// ColumnNames returns the names of cols.
func ColumnNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// ChunkRows splits n rows into [start,end) ranges so that no statement binds
// more than maxParams parameters or more than maxRows rows. Zero limits are
// ignored.
func ChunkRows(n, width, maxParams, maxRows int) [][2]int {
	per := n
	if width > 0 && maxParams > 0 {
		per = maxParams / width
	}
	if maxRows > 0 && per > maxRows {
		per = maxRows
	}
	if per < 1 {
		per = 1
	}
	var out [][2]int
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
