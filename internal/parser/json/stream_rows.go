package json

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"autotable/internal/parser"
	"autotable/internal/record"
)

// StreamRecords parses JSON from r and streams each object as a parser.Row
// into out.
//
// Streaming behavior:
//   - If the root is a JSON array, it streams each object element one-by-one.
//   - If the root is a JSON object and contains an array field, it streams the
//     first such field one-by-one (envelope pattern).
//   - If the root is a single object with no array field, it emits one record.
//   - Objects following the root value (JSONL) are emitted as further records.
//
// Objects keep their key order. Integers decode as int64, other numbers as
// float64, nested objects as record.Record and arrays as []any.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	shape parser.Shape,
	out chan<- parser.Row,
	onParseErr parser.ErrFunc,
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	line := 0

	emit := func(obj record.Record) error {
		line++
		select {
		case out <- parser.Row{Line: line, Record: shape.Apply(obj)}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Peek the first token so arrays and envelopes stream without buffering.
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		report(onParseErr, 0, err)
		return fmt.Errorf("json: read first token: %w", err)
	}

	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			if err := streamArrayOfObjects(ctx, dec, emit, onParseErr, &line); err != nil {
				return err
			}
			if end, err := dec.Token(); err != nil {
				return fmt.Errorf("json: read array end: %w", err)
			} else if end != json.Delim(']') {
				return fmt.Errorf("json: expected array end ']', got %v", end)
			}
			return streamTrailingObjects(dec, emit, onParseErr, &line)

		case '{':
			streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emit, onParseErr, &line)
			if err != nil {
				return err
			}
			if end, err := dec.Token(); err != nil {
				return fmt.Errorf("json: read object end: %w", err)
			} else if end != json.Delim('}') {
				return fmt.Errorf("json: expected object end '}', got %v", end)
			}
			if !streamed {
				if err := emit(single); err != nil {
					return err
				}
			}
			return streamTrailingObjects(dec, emit, onParseErr, &line)

		default:
			return fmt.Errorf("json: unsupported root delimiter %q", d)
		}

	default:
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
}

func report(fn parser.ErrFunc, line int, err error) {
	if fn != nil {
		fn(line, err)
	}
}

func streamTrailingObjects(
	dec *json.Decoder,
	emit func(record.Record) error,
	onParseErr parser.ErrFunc,
	line *int,
) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err == nil && tok != json.Delim('{') {
			err = fmt.Errorf("unexpected token %v", tok)
		}
		if err != nil {
			report(onParseErr, *line+1, err)
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		obj, err := record.ReadObject(dec)
		if err != nil {
			report(onParseErr, *line+1, err)
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams elements of the current array (after '[' has
// been consumed). Every element must be an object; nulls are skipped.
func streamArrayOfObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(record.Record) error,
	onParseErr parser.ErrFunc,
	line *int,
) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			report(onParseErr, *line+1, err)
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			err := fmt.Errorf("json: array element not an object (got %v)", tok)
			report(onParseErr, *line+1, err)
			return err
		}
		obj, err := record.ReadObject(dec)
		if err != nil {
			report(onParseErr, *line+1, err)
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object (after '{' has been consumed).
//
// The first field holding an array is streamed as the record source and the
// rest of the object is skipped. Without such a field the whole object is
// returned as a single record.
func streamEnvelopeOrSingle(
	ctx context.Context,
	dec *json.Decoder,
	emit func(record.Record) error,
	onParseErr parser.ErrFunc,
	line *int,
) (streamed bool, single record.Record, _ error) {
	single = record.New()

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			report(onParseErr, *line+1, err)
			return false, single, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, single, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			report(onParseErr, *line+1, err)
			return false, single, fmt.Errorf("json: read object value token: %w", err)
		}

		if valTok == json.Delim('[') {
			if err := streamArrayOfObjects(ctx, dec, emit, onParseErr, line); err != nil {
				return false, single, err
			}
			endTok, err := dec.Token()
			if err != nil {
				return false, single, fmt.Errorf("json: read envelope array end: %w", err)
			}
			if endTok != json.Delim(']') {
				return false, single, fmt.Errorf("json: expected ']' after envelope array, got %v", endTok)
			}

			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, single, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, single, err
				}
			}
			return true, single, nil
		}

		val, err := record.ReadValue(dec, valTok)
		if err != nil {
			report(onParseErr, *line+1, err)
			return false, single, err
		}
		single.Set(key, val)
	}

	return false, single, nil
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	var want json.Delim
	switch d {
	case '{':
		want = '}'
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
	case '[':
		want = ']'
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value end: %w", err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}
