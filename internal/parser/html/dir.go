package html

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"autotable/internal/parser"
)

// StreamDir extracts every regular file in dir, in file name order, as one
// stream. Row.Line counts records across the whole directory. Files that
// cannot be read or parsed are reported through onErr and skipped.
func StreamDir(
	ctx context.Context,
	dir string,
	opt Options,
	out chan<- parser.Row,
	onErr parser.ErrFunc,
) error {
	ms, err := compile(opt.Mappings)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("html: read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	line := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := readDocument(filepath.Join(dir, e.Name()))
		if err != nil {
			if onErr != nil {
				onErr(line+1, fmt.Errorf("%s: %w", e.Name(), err))
			}
			continue
		}

		for _, rec := range extract(doc, opt.RecordSelector, ms) {
			if opt.SourceColumn != "" {
				rec.Set(opt.SourceColumn, e.Name())
			}
			line++
			select {
			case out <- parser.Row{Line: line, Record: opt.Shape.Apply(rec)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func readDocument(path string) (*goquery.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return goquery.NewDocumentFromReader(f)
}
