package mssql

import (
	"fmt"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// encodeValue converts v to a type both the RPC and bulk-copy paths accept.
func encodeValue(v any, col storage.Column) (any, error) {
	if storage.IsNull(v) {
		return nil, nil
	}
	if t, ok := storage.CivilToTime(v); ok {
		return t, nil
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return t.String(), nil
	case time.Duration:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case uint:
		return int64(t), nil
	}
	switch semtype.Of(v) {
	case semtype.List, semtype.Mapping:
		b, err := storage.EncodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("mssql: column %q: %w", col.Name, err)
		}
		return string(b), nil
	}
	return v, nil
}

// decodeValue maps scanned values back to the column's semantic type.
func decodeValue(v any, col storage.Column) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case semtype.Decimal:
		switch t := v.(type) {
		case []byte:
			return decimal.NewFromString(string(t))
		case string:
			return decimal.NewFromString(t)
		}
	case semtype.Date:
		if t, ok := v.(time.Time); ok {
			return civil.DateOf(t), nil
		}
	case semtype.Time:
		if t, ok := v.(time.Time); ok {
			return civil.TimeOf(t), nil
		}
	}
	return v, nil
}
