package record

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return r.fields.MarshalJSON()
}

// UnmarshalJSON decodes an object keeping key order. Nested objects become
// Records, integral numbers int64 and other numbers float64.
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	out, err := ReadObject(dec)
	if err != nil {
		return err
	}
	*r = out
	return nil
}

// ReadObject reads the members of an object whose '{' has already been
// consumed, including the closing '}'. The decoder should have UseNumber set.
func ReadObject(dec *json.Decoder) (Record, error) {
	out := New()
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("record: read key: %w", err)
		}
		k, ok := kt.(string)
		if !ok {
			return Record{}, fmt.Errorf("record: object key is %T", kt)
		}
		vt, err := dec.Token()
		if err != nil {
			return Record{}, fmt.Errorf("record: read value for %q: %w", k, err)
		}
		v, err := ReadValue(dec, vt)
		if err != nil {
			return Record{}, err
		}
		out.Set(k, v)
	}
	end, err := dec.Token()
	if err != nil {
		return Record{}, fmt.Errorf("record: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return Record{}, fmt.Errorf("record: expected '}', got %v", end)
	}
	return out, nil
}

// ReadValue materializes the value whose first token is tok.
func ReadValue(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return ReadObject(dec)
		case '[':
			arr := []any{}
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("record: read array element: %w", err)
				}
				v, err := ReadValue(dec, vt)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			end, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("record: read array end: %w", err)
			}
			if end != json.Delim(']') {
				return nil, fmt.Errorf("record: expected ']', got %v", end)
			}
			return arr, nil
		}
		return nil, fmt.Errorf("record: unexpected delimiter %q", t)
	case json.Number:
		return number(t), nil
	}
	return tok, nil
}

func number(n json.Number) any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(string(n), 64); err == nil {
		return f
	}
	return string(n)
}
