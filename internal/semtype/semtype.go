// Package semtype defines the backend-neutral column types used when tables
// are created from records, and the inference that picks one for a column.
package semtype

import (
	"fmt"
	"strings"
)

// Type is a backend-neutral column type. Backends map each Type to a native
// type name through a storage.TypeMap.
type Type int

const (
	Unknown Type = iota
	Integer
	Text
	// Number is the int-or-float classifier used during inference. Infer never
	// returns it; a column that only ever saw Number resolves to Float.
	Number
	Float
	Decimal
	Timestamp
	Bytes
	Boolean
	Date
	Time
	Duration
	List
	Mapping
)

var names = map[Type]string{
	Unknown:   "unknown",
	Integer:   "integer",
	Text:      "text",
	Number:    "number",
	Float:     "float",
	Decimal:   "decimal",
	Timestamp: "timestamp",
	Bytes:     "bytes",
	Boolean:   "boolean",
	Date:      "date",
	Time:      "time",
	Duration:  "duration",
	List:      "list",
	Mapping:   "mapping",
}

// Storable lists the types a table column may carry.
func Storable() []Type {
	return []Type{Integer, Text, Float, Decimal, Timestamp, Bytes, Boolean, Date, Time, Duration, List, Mapping}
}

func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("semtype(%d)", int(t))
}

// Parse accepts the canonical names plus a few common aliases.
func Parse(s string) (Type, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "int", "bigint":
		return Integer, nil
	case "string", "str", "unicode":
		return Text, nil
	case "double", "real":
		return Float, nil
	case "numeric":
		return Decimal, nil
	case "datetime":
		return Timestamp, nil
	case "binary", "blob":
		return Bytes, nil
	case "bool":
		return Boolean, nil
	case "interval":
		return Duration, nil
	case "array":
		return List, nil
	case "json", "map", "object":
		return Mapping, nil
	}
	for t, n := range names {
		if n == key && t != Unknown {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("semtype: unknown type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
