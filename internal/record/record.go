// Package record holds the ordered field mapping that flows from parsers into
// the ingestion layer.
package record

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is an ordered mapping from field name to value. Field order is the
// order of first insertion. A Record shares its storage when copied, like a
// map; the zero value is an empty record ready for Set.
type Record struct {
	fields *orderedmap.OrderedMap[string, any]
}

// MissingValue is the type of Missing.
type MissingValue struct{}

// Missing is the default placeholder for a field a record does not carry.
// It is distinct from nil, which is an explicit NULL.
var Missing = MissingValue{}

// IsMissing reports whether v is the Missing placeholder.
func IsMissing(v any) bool {
	_, ok := v.(MissingValue)
	return ok
}

func New() Record {
	return Record{fields: orderedmap.New[string, any]()}
}

// Of builds a record from alternating keys and values. It panics on an odd
// argument count or a non-string key.
func Of(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("record: Of requires key/value pairs")
	}
	r := New()
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("record: key at %d is %T, not string", i, kv[i]))
		}
		r.Set(k, kv[i+1])
	}
	return r
}

// FromMap copies m into a record with keys in sorted order.
func FromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := New()
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// Set stores v under k. Re-setting an existing key keeps its position.
func (r *Record) Set(k string, v any) *Record {
	if r.fields == nil {
		r.fields = orderedmap.New[string, any]()
	}
	r.fields.Set(k, v)
	return r
}

func (r Record) Get(k string) (any, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(k)
}

func (r Record) Has(k string) bool {
	_, ok := r.Get(k)
	return ok
}

func (r Record) Delete(k string) {
	if r.fields != nil {
		r.fields.Delete(k)
	}
}

func (r Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

func (r Record) Keys() []string {
	out := make([]string, 0, r.Len())
	if r.fields == nil {
		return out
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

func (r Record) Values() []any {
	out := make([]any, 0, r.Len())
	if r.fields == nil {
		return out
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// Map returns an unordered copy.
func (r Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r.fields == nil {
		return out
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		out[p.Key] = p.Value
	}
	return out
}

// Each calls fn for every field in order until fn returns false.
func (r Record) Each(fn func(k string, v any) bool) {
	if r.fields == nil {
		return
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

func (r Record) String() string {
	s := "{"
	i := 0
	r.Each(func(k string, v any) bool {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %v", k, v)
		i++
		return true
	})
	return s + "}"
}
