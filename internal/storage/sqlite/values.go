package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// encodeValue converts v into something modernc.org/sqlite can bind.
//
// Timestamps are stored as RFC3339Nano text for reliable round trips; civil
// values use their canonical string forms; lists and mappings become JSON.
func encodeValue(v any, col storage.Column) (any, error) {
	if storage.IsNull(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t), nil
	case civil.DateTime:
		return formatSQLiteTime(t.In(time.UTC)), nil
	case civil.Date:
		return t.String(), nil
	case civil.Time:
		return t.String(), nil
	case decimal.Decimal:
		return t.String(), nil
	case *decimal.Decimal:
		return t.String(), nil
	case time.Duration:
		return int64(t), nil
	case []byte, string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, float32, float64:
		return t, nil
	case uint64:
		return int64(t), nil
	}
	switch semtype.Of(v) {
	case semtype.List, semtype.Mapping:
		b, err := storage.EncodeJSON(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return nil, fmt.Errorf("sqlite: column %q: cannot store %T", col.Name, v)
}

// decodeValue converts a scanned value back to the column's semantic type.
// Values that do not fit are returned as scanned.
func decodeValue(v any, col storage.Column) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case semtype.Boolean:
		if i, ok := v.(int64); ok {
			return i != 0, nil
		}
	case semtype.Timestamp:
		switch t := v.(type) {
		case string:
			return parseSQLiteTime(t)
		case time.Time:
			return t.UTC(), nil
		}
	case semtype.Date:
		switch t := v.(type) {
		case string:
			return civil.ParseDate(strings.TrimSpace(t))
		case time.Time:
			return civil.DateOf(t), nil
		}
	case semtype.Time:
		switch t := v.(type) {
		case string:
			return civil.ParseTime(strings.TrimSpace(t))
		case time.Time:
			return civil.TimeOf(t), nil
		}
	case semtype.Decimal:
		switch t := v.(type) {
		case int64:
			return decimal.NewFromInt(t), nil
		case float64:
			return decimal.NewFromFloat(t), nil
		case string:
			return decimal.NewFromString(t)
		}
	case semtype.Duration:
		if i, ok := v.(int64); ok {
			return time.Duration(i), nil
		}
	case semtype.List, semtype.Mapping:
		if s, ok := v.(string); ok {
			return decodeJSON(s)
		}
	}
	return v, nil
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return record.ReadValue(dec, tok)
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
// We store timestamps as TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05Z07:00" and its fractional variant
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
