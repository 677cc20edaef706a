// Package probe previews the table autotable would create for a sample of
// records: the inferred column types, how many rows carry each column, and
// which columns could serve as a primary key.
package probe

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"autotable/internal/ingest"
	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// distinctCap bounds the distinct values tracked per column.
const distinctCap = 10000

// ColumnStats describes one column of the sample.
type ColumnStats struct {
	storage.Column

	// Present counts rows with a non-null value for the column.
	Present int
	// Distinct counts distinct non-null values, up to distinctCap.
	Distinct int
	Capped   bool
}

// Ratio is Distinct over Present, 0 for a column never seen.
func (c ColumnStats) Ratio() float64 {
	if c.Present == 0 {
		return 0
	}
	return float64(c.Distinct) / float64(c.Present)
}

// Result is the outcome of Probe.
type Result struct {
	Spec    storage.TableSpec
	Sampled int
	Columns []ColumnStats

	// KeyCandidates are Integer or Text columns present and distinct in every
	// sampled row, most selective first.
	KeyCandidates []string
}

// Probe builds the create request for rows the way Ingestor.InsertAll would,
// without touching a database, and gathers per-column uniqueness.
func Probe(ref storage.TableRef, rows []record.Record, types *storage.TypeMap, opts ingest.CreateOptions) (Result, error) {
	if types == nil {
		return Result{}, errors.New("probe: nil type map")
	}
	spec, err := ingest.NewSchemaBuilder(nil, types, nil).BuildSpec(ref, rows, opts)
	if err != nil {
		return Result{}, err
	}

	res := Result{Spec: spec, Sampled: len(rows), Columns: make([]ColumnStats, len(spec.Columns))}
	for i, col := range spec.Columns {
		res.Columns[i] = columnStats(col, rows)
	}

	var cands []ColumnStats
	for _, c := range res.Columns {
		if c.Type != semtype.Integer && c.Type != semtype.Text {
			continue
		}
		if c.Present > 0 && c.Present == len(rows) && c.Distinct == c.Present && !c.Capped {
			cands = append(cands, c)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		// Integers first; they make cheaper keys.
		return cands[i].Type == semtype.Integer && cands[j].Type != semtype.Integer
	})
	for _, c := range cands {
		res.KeyCandidates = append(res.KeyCandidates, c.Name)
	}
	return res, nil
}

func columnStats(col storage.Column, rows []record.Record) ColumnStats {
	st := ColumnStats{Column: col}
	seen := make(map[string]struct{})
	for _, r := range rows {
		v, ok := r.Get(col.Name)
		if !ok || storage.IsNull(v) {
			continue
		}
		st.Present++
		if st.Capped {
			continue
		}
		seen[fmt.Sprintf("%T:%v", v, v)] = struct{}{}
		if len(seen) >= distinctCap {
			st.Capped = true
			seen = nil
		}
	}
	if st.Capped {
		st.Distinct = distinctCap
	} else {
		st.Distinct = len(seen)
	}
	return st
}

// WriteReport prints res as an aligned table.
func WriteReport(w io.Writer, res Result) error {
	if _, err := fmt.Fprintf(w, "table %s sampled_rows=%d\n", res.Spec.Ref, res.Sampled); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "column\ttype\tnative\tkey\tnull\tpresent\tdistinct\tratio")
	for _, c := range res.Columns {
		key := ""
		switch {
		case c.Autoincrement:
			key = "pk auto"
		case c.PrimaryKey:
			key = "pk"
		}
		distinct := fmt.Sprint(c.Distinct)
		if c.Capped {
			distinct += "+"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\t%.2f\n",
			c.Name, c.Type, c.NativeType, key, c.Nullable, c.Present, distinct, c.Ratio())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(res.KeyCandidates) > 0 {
		_, err := fmt.Fprintf(w, "key candidates: %s\n", strings.Join(res.KeyCandidates, ", "))
		return err
	}
	return nil
}
