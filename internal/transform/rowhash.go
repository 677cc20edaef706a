// Package transform holds record rewrites applied between parsing and
// loading.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"autotable/internal/record"
	"autotable/internal/storage"
)

const defaultSeparator = "\x1f"

// RowHash writes a SHA-256 of selected fields into Target, giving rows a
// stable non-null key even when natural key columns can be NULL.
//
// Fields are joined in order with Separator. Absent and null values encode
// as a single NUL byte so they differ from the empty string. Timestamps are
// hashed as RFC3339Nano in UTC, nested values as JSON. The result is 64
// lowercase hex characters.
type RowHash struct {
	// Target is the column receiving the hash. Empty disables hashing.
	Target string `mapstructure:"target"`
	// Fields to hash; empty hashes every other key in record order.
	Fields []string `mapstructure:"fields"`
	// IncludeFieldNames hashes "name=value" instead of "value".
	IncludeFieldNames bool   `mapstructure:"include_field_names"`
	Separator         string `mapstructure:"separator"`
	TrimSpace         bool   `mapstructure:"trim_space"`
	// Overwrite replaces a Target value already present in the record.
	Overwrite bool `mapstructure:"overwrite"`
}

func (h RowHash) Enabled() bool { return h.Target != "" }

// Apply sets Target on r and returns it.
func (h RowHash) Apply(r record.Record) record.Record {
	if !h.Enabled() {
		return r
	}
	if !h.Overwrite && r.Has(h.Target) {
		return r
	}
	r.Set(h.Target, h.Sum(r))
	return r
}

// Sum returns the hex hash of r without modifying it.
func (h RowHash) Sum(r record.Record) string {
	fields := h.Fields
	if len(fields) == 0 {
		for _, k := range r.Keys() {
			if k != h.Target {
				fields = append(fields, k)
			}
		}
	}
	sep := h.Separator
	if sep == "" {
		sep = defaultSeparator
	}

	var b strings.Builder
	b.Grow(len(fields) * 20)
	for i, f := range fields {
		if i > 0 {
			b.WriteString(sep)
		}
		if h.IncludeFieldNames {
			b.WriteString(f)
			b.WriteByte('=')
		}
		v, _ := r.Get(f)
		writeCanonical(&b, v, h.TrimSpace)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any, trim bool) {
	if storage.IsNull(v) {
		b.WriteByte('\x00')
		return
	}
	switch t := v.(type) {
	case string:
		if trim {
			t = strings.TrimSpace(t)
		}
		b.WriteString(t)
	case []byte:
		if trim {
			b.WriteString(strings.TrimSpace(string(t)))
			return
		}
		b.Write(t)
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		b.WriteString(t.UTC().Format(time.RFC3339Nano))
	case record.Record, []any, map[string]any:
		if enc, err := json.Marshal(t); err == nil {
			b.Write(enc)
			return
		}
		fmt.Fprint(b, t)
	default:
		fmt.Fprint(b, t)
	}
}
