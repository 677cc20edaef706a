package semtype

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"autotable/internal/record"
)

// classifiers is the candidate universe in elimination order. The order
// matters only for the two-survivor rule in resolve.
var classifiers = []struct {
	t  Type
	is func(any) bool
}{
	{Integer, isInteger},
	{Text, isText},
	{Number, isNumber},
	{Decimal, isDecimal},
	{Timestamp, isTimestamp},
	{Bytes, isBytes},
	{Boolean, isBoolean},
	{Date, isDate},
	{Time, isTime},
	{Duration, isDuration},
	{List, isList},
	{Mapping, isMapping},
}

// Infer picks the column type for values. Every non-nil, non-missing value
// removes the candidates it is not an instance of; the survivors decide:
//   - exactly one survivor is the answer (Number becomes Float)
//   - exactly Integer and Number means every value was an integer
//   - anything else, including no evidence at all, is Text
func Infer(values []any) Type {
	alive := make([]bool, len(classifiers))
	for i := range alive {
		alive[i] = true
	}
	left := len(classifiers)

	for _, v := range values {
		if v == nil || record.IsMissing(v) {
			continue
		}
		for i, c := range classifiers {
			if alive[i] && !c.is(v) {
				alive[i] = false
				left--
			}
		}
		if left == 0 {
			break
		}
	}

	var survivors []Type
	for i, c := range classifiers {
		if alive[i] {
			survivors = append(survivors, c.t)
		}
	}
	return resolve(survivors)
}

func resolve(survivors []Type) Type {
	switch len(survivors) {
	case 1:
		if survivors[0] == Number {
			return Float
		}
		return survivors[0]
	case 2:
		if survivors[0] == Integer && survivors[1] == Number {
			return Integer
		}
	}
	return Text
}

// Of reports the classifier type of a single value, or Unknown.
func Of(v any) Type {
	if v == nil || record.IsMissing(v) {
		return Unknown
	}
	return Infer([]any{v})
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return isInteger(v)
}

func isText(v any) bool {
	_, ok := v.(string)
	return ok
}

func isDecimal(v any) bool {
	switch v.(type) {
	case decimal.Decimal, *decimal.Decimal:
		return true
	}
	return false
}

func isTimestamp(v any) bool {
	switch v.(type) {
	case time.Time, civil.DateTime:
		return true
	}
	return false
}

func isBytes(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func isBoolean(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isDate(v any) bool {
	_, ok := v.(civil.Date)
	return ok
}

func isTime(v any) bool {
	_, ok := v.(civil.Time)
	return ok
}

func isDuration(v any) bool {
	_, ok := v.(time.Duration)
	return ok
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []int64, []float64, []bool:
		return true
	}
	return false
}

func isMapping(v any) bool {
	switch v.(type) {
	case map[string]any, record.Record, *record.Record:
		return true
	}
	return false
}
