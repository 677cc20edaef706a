package postgres

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

// encodeValue converts values pgx has no codec for. JSON goes over the wire
// as raw bytes, which pgx passes through for json and jsonb columns.
func encodeValue(v any, col storage.Column) (any, error) {
	if storage.IsNull(v) {
		return nil, nil
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return pgtype.Numeric{Int: t.Coefficient(), Exp: t.Exponent(), Valid: true}, nil
	case time.Duration:
		return pgtype.Interval{Microseconds: t.Microseconds(), Valid: true}, nil
	case civil.Date:
		return pgtype.Date{Time: t.In(time.UTC), Valid: true}, nil
	case civil.DateTime:
		return t.In(time.UTC), nil
	case civil.Time:
		us := int64(t.Hour)*3600e6 + int64(t.Minute)*60e6 + int64(t.Second)*1e6 + int64(t.Nanosecond)/1e3
		return pgtype.Time{Microseconds: us, Valid: true}, nil
	}
	switch semtype.Of(v) {
	case semtype.List, semtype.Mapping:
		if col.Type == semtype.Text {
			b, err := storage.EncodeJSON(v)
			return string(b), err
		}
		return storage.EncodeJSON(v)
	}
	return v, nil
}

// decodeValue maps pgx's generic result types to the semantic Go types.
func decodeValue(v any, col storage.Column) any {
	switch t := v.(type) {
	case time.Time:
		if col.Type == semtype.Date {
			return civil.DateOf(t)
		}
		return t
	case pgtype.Numeric:
		if !t.Valid || t.NaN || t.Int == nil {
			return nil
		}
		return decimal.NewFromBigInt(t.Int, t.Exp)
	case pgtype.Interval:
		if !t.Valid {
			return nil
		}
		us := t.Microseconds + int64(t.Days)*microsPerDay + int64(t.Months)*30*microsPerDay
		return time.Duration(us) * time.Microsecond
	case pgtype.Time:
		if !t.Valid {
			return nil
		}
		d := time.Duration(t.Microseconds) * time.Microsecond
		return civil.TimeOf(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).Add(d))
	case map[string]any:
		return record.FromMap(t)
	}
	return v
}
