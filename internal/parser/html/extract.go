// Package html turns HTML documents into records with CSS selector mappings.
//
// In single mode each document yields one record evaluated against the whole
// page. In record mode every element matched by RecordSelector is an
// extraction root and yields its own record, in DOM order.
package html

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"autotable/internal/parser"
	"autotable/internal/record"
)

// Options controls HTML extraction.
type Options struct {
	parser.Shape

	RecordSelector string
	Mappings       []Mapping

	// SourceColumn, when set, receives the file name in StreamDir.
	SourceColumn string
}

// StreamRecords parses one HTML document from r and streams its records into
// out. Missing selectors produce no value; records with no values are not
// emitted.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	opt Options,
	out chan<- parser.Row,
	onErr parser.ErrFunc,
) error {
	ms, err := compile(opt.Mappings)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		if onErr != nil {
			onErr(0, err)
		}
		return fmt.Errorf("html: parse: %w", err)
	}

	line := 0
	for _, rec := range extract(doc, opt.RecordSelector, ms) {
		line++
		select {
		case out <- parser.Row{Line: line, Record: opt.Shape.Apply(rec)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func extract(doc *goquery.Document, recordSelector string, ms []compiled) []record.Record {
	if strings.TrimSpace(recordSelector) == "" {
		rec := extractFrom(doc.Selection, ms)
		if rec.Len() == 0 {
			return nil
		}
		return []record.Record{rec}
	}

	var recs []record.Record
	doc.Find(recordSelector).Each(func(_ int, root *goquery.Selection) {
		if rec := extractFrom(root, ms); rec.Len() > 0 {
			recs = append(recs, rec)
		}
	})
	return recs
}

// extractFrom applies every mapping relative to root. Keys follow mapping
// order. All collects each non-empty match into a list, otherwise only the
// first match counts.
func extractFrom(root *goquery.Selection, ms []compiled) record.Record {
	rec := record.New()
	for _, m := range ms {
		if m.All {
			var vals []any
			root.Find(m.Selector).Each(func(_ int, sel *goquery.Selection) {
				if v := applyRegexFilter(extractOne(sel, m.Mapping), m.re); v != "" {
					vals = append(vals, v)
				}
			})
			if len(vals) > 0 {
				rec.Set(m.Column, vals)
			}
			continue
		}

		sel := root.Find(m.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		if v := applyRegexFilter(extractOne(sel, m.Mapping), m.re); v != "" {
			rec.Set(m.Column, v)
		}
	}
	return rec
}

func extractOne(sel *goquery.Selection, m Mapping) string {
	switch m.Extract {
	case "attr":
		val, _ := sel.Attr(m.Attr)
		return strings.TrimSpace(val)
	case "html":
		h, err := goquery.OuterHtml(sel)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(h)
	default:
		return strings.TrimSpace(sel.Text())
	}
}

// applyRegexFilter keeps the first capture group when re has one, the whole
// match otherwise, and "" when re does not match.
func applyRegexFilter(value string, re *regexp.Regexp) string {
	if value == "" || re == nil {
		return value
	}
	sm := re.FindStringSubmatch(value)
	switch len(sm) {
	case 0:
		return ""
	case 1:
		return sm[0]
	}
	return sm[1]
}
