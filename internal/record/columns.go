package record

import (
	"reflect"
	"strings"
)

// Column is one field of a batch of records, in record order.
type Column struct {
	Name   string
	Values []any
}

// KeyUnion returns every key seen across rows, in first-seen order.
func KeyUnion(rows []Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		r.Each(func(k string, _ any) bool {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
			return true
		})
	}
	return out
}

// Columns reshapes rows into columns. When declared is non-empty it fixes the
// column set and order; otherwise the key union is used. A row without a
// column contributes missing.
func Columns(rows []Record, declared []string, missing any) []Column {
	names := declared
	if len(names) == 0 {
		names = KeyUnion(rows)
	}
	out := make([]Column, len(names))
	for i, name := range names {
		vals := make([]any, len(rows))
		for j, r := range rows {
			v, ok := r.Get(name)
			if !ok {
				v = missing
			}
			vals[j] = v
		}
		out[i] = Column{Name: name, Values: vals}
	}
	return out
}

// Without returns values minus every entry equal to sentinel. Nil entries are
// kept.
func Without(values []any, sentinel any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil && SameValue(v, sentinel) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SameValue compares a and b with == when both are of the same comparable
// type. Uncomparable values such as slices and maps never match.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// KeySignature identifies the ordered key set of r. Records with the same
// signature can share one bound statement.
func KeySignature(r Record) string {
	return strings.Join(r.Keys(), "\x00")
}
