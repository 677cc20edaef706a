package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"golang.org/x/text/encoding/htmlindex"

	"autotable/internal/parser"
	"autotable/internal/record"
)

// Options controls CSV reading.
type Options struct {
	parser.Shape

	// HasHeader makes the first line name the columns. Without a header,
	// columns are named by Shape.Columns or column_1, column_2, ...
	HasHeader bool

	// Comma defaults to ','.
	Comma rune

	TrimSpace       bool
	LazyQuotes      bool
	FieldsPerRecord int

	// Charset is a WHATWG encoding label such as "windows-1250". Empty means
	// UTF-8.
	Charset string

	// Coerce converts cells that look like integers, floats, booleans, dates
	// or timestamps into typed values.
	Coerce bool
}

// DefaultOptions matches the common export: a header line, commas, trimmed cells.
func DefaultOptions() Options {
	return Options{HasHeader: true, Comma: ',', TrimSpace: true}
}

// StreamRecords streams CSV lines from src as records keyed by column name.
// Empty cells are nil. Malformed lines are reported through onErr and
// skipped; a header that cannot be read is fatal.
func StreamRecords(
	ctx context.Context,
	src io.Reader,
	opt Options,
	out chan<- parser.Row,
	onErr parser.ErrFunc,
) error {
	r, err := decodeCharset(src, opt.Charset)
	if err != nil {
		return err
	}

	cr := csv.NewReader(r)
	cr.Comma = opt.Comma
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.LazyQuotes = opt.LazyQuotes
	if opt.FieldsPerRecord != 0 {
		cr.FieldsPerRecord = opt.FieldsPerRecord
	} else {
		cr.FieldsPerRecord = -1
	}

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	var names []string
	if opt.HasHeader {
		hdr, err := readRec()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("csv: read header: %w", err)
		}
		names = headerNames(hdr, opt.Shape)
	}

	// Renaming already happened on the header.
	shape := opt.Shape
	shape.HeaderMap = nil

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := record.New()
		for i, v := range rec {
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			row.Set(columnName(names, opt.Columns, i), cellValue(v, opt.Coerce))
		}

		select {
		case out <- parser.Row{Line: line, Record: shape.Apply(row)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeCharset(src io.Reader, label string) (io.Reader, error) {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return src, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(src), nil
}

// headerNames normalizes header cells: a leading BOM and edge spaces are
// dropped, mapped names win, everything else is lowercased with spaces
// turned into underscores.
func headerNames(hdr []string, shape parser.Shape) []string {
	out := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		if mapped, ok := shape.Rename(h); ok {
			out[i] = mapped
			continue
		}
		out[i] = strings.ReplaceAll(strings.ToLower(h), " ", "_")
	}
	return out
}

func columnName(header, declared []string, i int) string {
	switch {
	case i < len(header) && header[i] != "":
		return header[i]
	case len(header) == 0 && i < len(declared):
		return declared[i]
	}
	return "column_" + strconv.Itoa(i+1)
}

func cellValue(s string, coerce bool) any {
	if s == "" {
		return nil
	}
	if !coerce {
		return s
	}
	return Coerce(s)
}

// Coerce converts s to the first type it parses as: int64, float64, bool,
// time.Time (UTC), civil.Date. Anything else stays a string.
func Coerce(s string) any {
	t := strings.TrimSpace(s)
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	if b, ok := parseBoolLoose(t); ok {
		return b
	}
	if ts, ok := parseTimestampLoose(t); ok {
		return ts
	}
	if d, ok := parseDateLoose(t); ok {
		return d
	}
	return s
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "t", "true", "yes", "y":
		return true, true
	case "f", "false", "no", "n":
		return false, true
	}
	return false, false
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"02.01.2006 15:04:05",
}

func parseDateLoose(s string) (civil.Date, bool) {
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

func parseTimestampLoose(s string) (time.Time, bool) {
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
