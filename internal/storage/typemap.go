package storage

import (
	"fmt"
	"strings"

	"autotable/internal/semtype"
)

// TypeMap maps semantic types to a backend's native type names and back. It
// is immutable; With and Without return modified copies.
type TypeMap struct {
	native  map[semtype.Type]string
	reverse map[string]semtype.Type
}

// NewTypeMap builds a map from semantic→native names. aliases add extra
// native→semantic entries for describing tables (e.g. "varchar" → Text).
// When two semantic types share a native name, the reverse lookup keeps the
// one listed in aliases, or else the lower-numbered type.
func NewTypeMap(native map[semtype.Type]string, aliases map[string]semtype.Type) *TypeMap {
	m := &TypeMap{
		native:  make(map[semtype.Type]string, len(native)),
		reverse: make(map[string]semtype.Type, len(native)+len(aliases)),
	}
	for t, n := range native {
		m.native[t] = n
		key := normalizeNative(n)
		if prev, ok := m.reverse[key]; !ok || t < prev {
			m.reverse[key] = t
		}
	}
	for n, t := range aliases {
		m.reverse[normalizeNative(n)] = t
	}
	return m
}

// Native returns the native type name for t.
func (m *TypeMap) Native(t semtype.Type) (string, error) {
	if t == semtype.Number {
		t = semtype.Float
	}
	if m != nil {
		if n, ok := m.native[t]; ok {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// Semantic returns the semantic type for a native name as reported by a
// catalog. Case and length/precision arguments are ignored. Unknown names map
// to semtype.Unknown.
func (m *TypeMap) Semantic(native string) semtype.Type {
	if m == nil {
		return semtype.Unknown
	}
	key := normalizeNative(native)
	if t, ok := m.reverse[key]; ok {
		return t
	}
	return semtype.Unknown
}

// With returns a copy where t maps to native.
func (m *TypeMap) With(t semtype.Type, native string) *TypeMap {
	out := m.clone()
	out.native[t] = native
	out.reverse[normalizeNative(native)] = t
	return out
}

// Without returns a copy with no mapping for t, so creating a column of that
// type fails with ErrUnsupportedType.
func (m *TypeMap) Without(t semtype.Type) *TypeMap {
	out := m.clone()
	delete(out.native, t)
	return out
}

func (m *TypeMap) clone() *TypeMap {
	out := &TypeMap{
		native:  map[semtype.Type]string{},
		reverse: map[string]semtype.Type{},
	}
	if m == nil {
		return out
	}
	for k, v := range m.native {
		out.native[k] = v
	}
	for k, v := range m.reverse {
		out.reverse[k] = v
	}
	return out
}

func normalizeNative(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return strings.Join(strings.Fields(s), " ")
}
