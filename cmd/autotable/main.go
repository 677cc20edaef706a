// Command autotable loads a JSON, CSV or HTML source into a database table,
// creating the table from the data when it does not exist yet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"autotable/internal/ingest"
	"autotable/internal/metrics"
	"autotable/internal/metrics/datadog"
	"autotable/internal/metrics/prompush"
	"autotable/internal/pipeline"
	"autotable/internal/probe"
	"autotable/internal/record"
	"autotable/internal/storage"
	// registers every backend with the storage factory.
	"autotable/internal/storage/all"
)

const usage = "usage: autotable -config pipeline.yaml | -input path -table name [flags]"

type runner interface {
	Run(ctx context.Context, cfg *pipeline.Config) (pipeline.Stats, error)
	Sample(ctx context.Context, cfg *pipeline.Config, n int) ([]record.Record, int, error)
}

type metricsConfig struct {
	Job            string
	Backend        string
	PushgatewayURL string
	Tags           []string
}

// appDeps holds the side-effecting seams of runMain.
type appDeps struct {
	loadConfig  func(path string) (*pipeline.Config, error)
	newRunner   func(log *slog.Logger) runner
	initMetrics func(ctx context.Context, mc metricsConfig) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: pipeline.LoadConfig,
		newRunner: func(log *slog.Logger) runner {
			return &pipeline.Runner{Log: log}
		},
		initMetrics: initMetrics,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 on success, 2 on usage errors and
// 1 on everything else.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("autotable", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath      = fs.String("config", "", "pipeline config file (YAML or JSON)")
		input        = fs.String("input", "", "source file, HTML directory or - for stdin (overrides source.path)")
		format       = fs.String("format", "", "json, csv or html (overrides source.format)")
		table        = fs.String("table", "", "target table, optionally schema-qualified (overrides storage.table)")
		pk           = fs.String("pk", "", "comma separated primary key columns (overrides storage.primary_key)")
		kind         = fs.String("kind", "", "storage backend: sqlite, postgres, mssql (overrides storage.kind)")
		dsn          = fs.String("dsn", "", "database DSN (overrides storage.dsn)")
		batchSize    = fs.Int("batch-size", 0, "records per insert_all call (overrides runtime.batch_size)")
		recreate     = fs.Bool("recreate", false, "drop every table in the schema before loading")
		metricsFlg   = fs.String("metrics-backend", "", "metrics backend: none, datadog, pushgateway (default $METRICS_BACKEND)")
		pushURL      = fs.String("pushgateway-url", "", "Pushgateway base URL (default $PUSHGATEWAY_URL)")
		verbose      = fs.Bool("v", false, "enable debug logs")
		validateOnly = fs.Bool("validate", false, "validate the configuration and exit")
		probeN       = fs.Int("probe", 0, "print the table inferred from the first N records and exit")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" && strings.TrimSpace(*input) == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	log := newLogger(stderr, *verbose)

	cfg, err := deps.loadConfig(strings.TrimSpace(*cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["input"] {
		cfg.Source.Path = *input
	}
	if set["format"] {
		cfg.Source.Format = *format
	}
	if set["table"] {
		cfg.Storage.Table = *table
	}
	if set["pk"] {
		cfg.Storage.PrimaryKey = []string{*pk}
	}
	if set["kind"] {
		cfg.Storage.Kind = *kind
	}
	if set["dsn"] {
		cfg.Storage.DSN = *dsn
	}
	if set["batch-size"] {
		cfg.Runtime.BatchSize = *batchSize
	}
	if set["recreate"] {
		cfg.Storage.Recreate = *recreate
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}
	if *validateOnly {
		fmt.Fprintln(stdout, "config ok")
		return 0
	}
	if *probeN > 0 {
		if err := runProbe(ctx, deps.newRunner(log), cfg, *probeN, stdout); err != nil {
			fmt.Fprintf(stderr, "probe: %v\n", err)
			return 1
		}
		return 0
	}

	mc := metricsConfig{
		Job:            cfg.Job,
		Backend:        firstNonEmpty(*metricsFlg, os.Getenv("METRICS_BACKEND")),
		PushgatewayURL: firstNonEmpty(*pushURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091"),
		Tags:           datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
	}
	cleanup, err := deps.initMetrics(ctx, mc)
	if err != nil {
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	log.Debug("pipeline",
		"source", cfg.Source.Path, "format", cfg.Format(),
		"storage", cfg.Storage.Kind, "table", cfg.Storage.Table)

	start := time.Now()
	st, err := deps.newRunner(log).Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "loaded %d records into %s in %d batches (%s)\n",
		st.Records, cfg.Storage.Table, st.Batches, time.Since(start).Truncate(time.Millisecond))
	return 0
}

// runProbe samples the source and reports the table InsertAll would create.
func runProbe(ctx context.Context, r runner, cfg *pipeline.Config, n int, w io.Writer) error {
	types, ok := all.TypeMap(cfg.Storage.Kind)
	if !ok {
		return fmt.Errorf("no type map for storage kind %q", cfg.Storage.Kind)
	}
	columnTypes, err := cfg.ColumnTypes()
	if err != nil {
		return err
	}
	rows, parseErrors, err := r.Sample(ctx, cfg, n)
	if err != nil {
		return err
	}
	ref := storage.ParseTableRef(cfg.Storage.Table)
	if ref.Schema == "" {
		ref.Schema = cfg.Storage.Schema
	}
	res, err := probe.Probe(ref, rows, types, ingest.CreateOptions{
		PrimaryKey:  cfg.Storage.PrimaryKey,
		ColumnTypes: columnTypes,
	})
	if err != nil {
		return err
	}
	if err := probe.WriteReport(w, res); err != nil {
		return err
	}
	if parseErrors > 0 {
		_, err = fmt.Fprintf(w, "skipped %d unparseable inputs\n", parseErrors)
	}
	return err
}

// newLogger writes tinted logs to w, in colour only when w is a terminal.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	noColor := true
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		noColor = false
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// closingBackend is a metrics backend that owns a background flusher.
type closingBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = openDatadog
	newPushBackend    = openPushgateway
	setMetricsBackend = metrics.SetBackend
	logPrintf         = logWarnf
)

func openDatadog(ctx context.Context, opts datadog.Options) (closingBackend, error) {
	b, err := datadog.NewBackend(ctx, opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openPushgateway(job, url string) (metrics.Backend, error) {
	b, err := prompush.NewBackend(job, url)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func logWarnf(format string, v ...any) { slog.Warn(fmt.Sprintf(format, v...)) }

// initMetrics installs the selected metrics backend. The returned cleanup is
// never nil; it flushes (Pushgateway) or closes (Datadog) the backend. A
// backend that fails to start is logged and metrics stay disabled; an unknown
// backend name is an error.
func initMetrics(ctx context.Context, mc metricsConfig) (func(), error) {
	noop := func() {}

	switch strings.ToLower(mc.Backend) {
	case "", "none", "noop":
		return noop, nil

	case "pushgateway", "prompush":
		b, err := newPushBackend(mc.Job, mc.PushgatewayURL)
		if err != nil {
			logPrintf("metrics: pushgateway init failed: %v; metrics disabled", err)
			return noop, nil
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    mc.Job,
			Tags:       mc.Tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logPrintf("metrics: %v; metrics disabled", datadog.WrapInitErr(err))
			return noop, nil
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil
	}
	return noop, fmt.Errorf("unknown metrics backend %q", mc.Backend)
}
