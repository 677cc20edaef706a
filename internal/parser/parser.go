// Package parser holds what the format-specific parsers share.
package parser

import (
	"strings"

	"autotable/internal/record"
)

// Row is one parsed record and the 1-based position it came from (data line
// for CSV, record number for JSON and HTML).
type Row struct {
	Line   int
	Record record.Record
}

// ErrFunc receives parse errors with the position they occurred at.
type ErrFunc func(line int, err error)

// Shape is the key handling every parser applies to each record.
type Shape struct {
	// HeaderMap renames source keys (original -> column name).
	HeaderMap map[string]string

	// Columns keeps only these keys, in this order. Empty keeps every key.
	Columns []string

	// ArrayJoinSeparator, when set, flattens string lists into one string.
	ArrayJoinSeparator string
}

// Apply returns r with keys renamed, projected and string lists joined.
func (s Shape) Apply(r record.Record) record.Record {
	if len(s.HeaderMap) == 0 && len(s.Columns) == 0 && s.ArrayJoinSeparator == "" {
		return r
	}

	renamed := record.New()
	r.Each(func(k string, v any) bool {
		if to, ok := s.Rename(k); ok {
			k = to
		}
		if s.ArrayJoinSeparator != "" {
			v = JoinStrings(v, s.ArrayJoinSeparator)
		}
		renamed.Set(k, v)
		return true
	})
	if len(s.Columns) == 0 {
		return renamed
	}

	out := record.New()
	for _, c := range s.Columns {
		if v, ok := renamed.Get(c); ok {
			out.Set(c, v)
		}
	}
	return out
}

// Rename looks k up in HeaderMap, falling back to its lowercase form since
// config loaders fold map keys.
func (s Shape) Rename(k string) (string, bool) {
	if to, ok := s.HeaderMap[k]; ok && to != "" {
		return to, true
	}
	if to, ok := s.HeaderMap[strings.ToLower(k)]; ok && to != "" {
		return to, true
	}
	return "", false
}

// JoinStrings flattens a list of strings to one joined string. Nil entries
// are skipped; lists holding anything else are returned unchanged.
func JoinStrings(v any, sep string) any {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, sep)
	case []any:
		ss := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return v
			}
			ss = append(ss, s)
		}
		return strings.Join(ss, sep)
	}
	return v
}
