// Package pipeline loads one file into one table: a parser goroutine streams
// records, a loader groups them into batches and hands each batch to
// Ingestor.InsertAll. The first batch creates the table when it is missing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"autotable/internal/ingest"
	"autotable/internal/metrics"
	"autotable/internal/parser"
	"autotable/internal/parser/csv"
	"autotable/internal/parser/html"
	"autotable/internal/parser/json"
	"autotable/internal/record"
	"autotable/internal/semtype"
	"autotable/internal/storage"
)

// Stats summarizes a run.
type Stats struct {
	Records     int64
	Batches     int
	ParseErrors int
	Created     bool
}

// Runner executes configs. The zero value opens backends from the storage
// registry, reads "-" from os.Stdin, fetches URLs with http.DefaultClient
// and logs to slog.Default().
type Runner struct {
	Open   func(ctx context.Context, cfg storage.Config) (storage.Backend, error)
	Stdin  io.Reader
	Log    *slog.Logger
	Client *http.Client
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Run validates cfg and loads its source into the configured table.
func (r *Runner) Run(ctx context.Context, cfg *Config) (st Stats, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("pipeline_run", start, err) }()

	if err := cfg.Validate(); err != nil {
		return st, fmt.Errorf("invalid config: %w", err)
	}
	columnTypes, _ := cfg.ColumnTypes()

	open := r.Open
	if open == nil {
		open = storage.Open
	}
	backend, err := open(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return st, fmt.Errorf("open %s: %w", cfg.Storage.Kind, err)
	}
	log := r.logger().With("job", cfg.Job, "table", cfg.Storage.Table)
	db := ingest.NewDatabase(backend, ingest.WithSchema(cfg.Storage.Schema), ingest.WithLogger(log))
	defer db.Close()

	if cfg.Storage.Recreate {
		if err := db.Recreate(ctx); err != nil {
			return st, fmt.Errorf("recreate: %w", err)
		}
	}

	rows := make(chan parser.Row, max(cfg.Runtime.ChannelBuffer, 1))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		return r.parse(gctx, cfg, rows, func(line int, err error) {
			st.ParseErrors++
			log.Warn("skipping unparseable input", "line", line, "err", err)
		})
	})

	g.Go(func() error {
		table := db.Table(cfg.Storage.Table)
		batch := make([]record.Record, 0, cfg.Runtime.BatchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if st.Batches == 0 && len(columnTypes) > 0 {
				created, err := createPinned(gctx, table, batch, cfg.Storage.PrimaryKey, columnTypes)
				if err != nil {
					return err
				}
				st.Created = created
			}
			if st.Batches == 0 && !st.Created {
				exists, err := table.Exists(gctx)
				if err != nil {
					return err
				}
				st.Created = !exists
			}
			if err := table.InsertAll(gctx, batch, cfg.Storage.PrimaryKey...); err != nil {
				return fmt.Errorf("batch %d: %w", st.Batches+1, err)
			}
			st.Batches++
			st.Records += int64(len(batch))
			log.Debug("batch loaded", "batch", st.Batches, "rows", len(batch), "total", st.Records)
			batch = batch[:0]
			return nil
		}

		for row := range rows {
			batch = append(batch, cfg.Parser.RowHash.Apply(row.Record))
			if len(batch) >= cfg.Runtime.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return st, err
	}
	log.Info("load complete", "records", st.Records, "batches", st.Batches,
		"parse_errors", st.ParseErrors, "elapsed", time.Since(start).Truncate(time.Millisecond))
	return st, nil
}

// createPinned creates the table up front when some column types are fixed
// by config, since InsertAll only infers. It reports whether it created it.
func createPinned(
	ctx context.Context,
	table *ingest.Table,
	rows []record.Record,
	pk []string,
	types map[string]semtype.Type,
) (bool, error) {
	exists, err := table.Exists(ctx)
	if err != nil || exists {
		return false, err
	}
	if _, err := table.Create(ctx, rows, ingest.CreateOptions{PrimaryKey: pk, ColumnTypes: types}); err != nil {
		return false, err
	}
	return true, nil
}

// Sample parses at most n records from cfg's source without opening storage.
// It also returns the number of skipped unparseable inputs.
func (r *Runner) Sample(ctx context.Context, cfg *Config, n int) ([]record.Record, int, error) {
	if err := cfg.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid config: %w", err)
	}
	if n <= 0 {
		n = DefaultSampleSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan parser.Row)
	errc := make(chan error, 1)
	parseErrors := 0
	go func() {
		defer close(rows)
		errc <- r.parse(ctx, cfg, rows, func(int, error) { parseErrors++ })
	}()

	var out []record.Record
	for row := range rows {
		out = append(out, cfg.Parser.RowHash.Apply(row.Record))
		if len(out) == n {
			cancel()
			break
		}
	}
	err := <-errc
	if len(out) == n && errors.Is(err, context.Canceled) {
		err = nil
	}
	return out, parseErrors, err
}

// DefaultSampleSize is what Sample reads when asked for no specific count.
const DefaultSampleSize = 1000

func (r *Runner) parse(ctx context.Context, cfg *Config, out chan<- parser.Row, onErr parser.ErrFunc) error {
	format := cfg.Format()

	if format == "html" {
		opt, err := cfg.htmlOptions()
		if err != nil {
			return err
		}
		if fi, err := os.Stat(cfg.Source.Path); err == nil && fi.IsDir() {
			return html.StreamDir(ctx, cfg.Source.Path, opt, out, onErr)
		}
		src, closeSrc, err := r.openSource(ctx, cfg.Source)
		if err != nil {
			return err
		}
		defer closeSrc()
		return html.StreamRecords(ctx, src, opt, out, onErr)
	}

	src, closeSrc, err := r.openSource(ctx, cfg.Source)
	if err != nil {
		return err
	}
	defer closeSrc()

	if format == "csv" {
		return csv.StreamRecords(ctx, src, cfg.csvOptions(), out, onErr)
	}
	return json.StreamRecords(ctx, src, cfg.shape(), out, onErr)
}

func (r *Runner) openSource(ctx context.Context, sc SourceConfig) (io.Reader, func(), error) {
	path := sc.Path
	if isURL(path) {
		return r.fetch(ctx, path, sc.HTTPTimeout)
	}
	if path == "-" {
		if r.Stdin != nil {
			return r.Stdin, func() {}, nil
		}
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// fetch streams the body of a GET request. The timeout covers reading the
// body, so it is released by the returned close func. Non-2xx responses fail
// with the status and up to 4KB of the body.
func (r *Runner) fetch(ctx context.Context, url string, timeout time.Duration) (io.Reader, func(), error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "autotable/1.0")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, func() {
		resp.Body.Close()
		cancel()
	}, nil
}
