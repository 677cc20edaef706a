package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"autotable/internal/ingest"
	"autotable/internal/metrics"
	"autotable/internal/metrics/datadog"
	"autotable/internal/pipeline"
	"autotable/internal/record"
	"autotable/internal/storage"
)

// fakeRunner records the config it was handed and returns a fixed result.
type fakeRunner struct {
	stats   pipeline.Stats
	err     error
	calls   atomic.Int64
	lastCfg *pipeline.Config
}

func (r *fakeRunner) Run(_ context.Context, cfg *pipeline.Config) (pipeline.Stats, error) {
	r.calls.Add(1)
	r.lastCfg = cfg
	return r.stats, r.err
}

func (r *fakeRunner) Sample(context.Context, *pipeline.Config, int) ([]record.Record, int, error) {
	return []record.Record{record.Of("code", "a", "n", 1), record.Of("code", "b", "n", 2)}, 1, r.err
}

// fakeMetricsBackend is a closable metrics backend.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (*fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (*fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (*fakeMetricsBackend) Flush() error                                     { return nil }

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func validConfig() *pipeline.Config {
	cfg := &pipeline.Config{Job: "job1"}
	cfg.Source.Path = "in.json"
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.Table = "t"
	cfg.Runtime.BatchSize = 10
	return cfg
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{{}, {"-config", "   "}, {"-no-such-flag"}} {
		var stdout, stderr bytes.Buffer
		code := runMain(context.Background(), args, &stdout, &stderr, appDeps{
			loadConfig: func(string) (*pipeline.Config, error) {
				t.Fatalf("loadConfig must not be called on usage errors")
				return nil, nil
			},
			newRunner: func(*slog.Logger) runner {
				t.Fatalf("newRunner must not be called on usage errors")
				return nil
			},
			initMetrics: func(context.Context, metricsConfig) (func(), error) {
				t.Fatalf("initMetrics must not be called on usage errors")
				return nil, nil
			},
		})
		if code != 2 {
			t.Fatalf("args=%q: exit code=%d, want 2", args, code)
		}
		if !strings.Contains(stderr.String(), "usage: autotable") {
			t.Fatalf("args=%q: stderr=%q", args, stderr.String())
		}
		if stdout.Len() != 0 {
			t.Fatalf("args=%q: stdout=%q, want empty", args, stdout.String())
		}
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	tests := []struct {
		name           string
		loadErr        error
		metricsErr     error
		runErr         error
		wantCode       int
		wantStderr     string
		wantRuns       int64
		wantCleanups   int64
		wantStdoutPart string
	}{
		{name: "ok", wantCode: 0, wantRuns: 1, wantCleanups: 1, wantStdoutPart: "loaded 5 records into t in 1 batches"},
		{name: "load_error", loadErr: errors.New("bad yaml"), wantCode: 1, wantStderr: "load config: bad yaml"},
		{name: "metrics_error", metricsErr: errors.New("unknown"), wantCode: 1, wantStderr: "metrics: unknown"},
		{name: "run_error", runErr: errors.New("boom"), wantCode: 1, wantStderr: "run: boom", wantRuns: 1, wantCleanups: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{stats: pipeline.Stats{Records: 5, Batches: 1}, err: tc.runErr}
			var cleanups atomic.Int64

			code := runMain(context.Background(),
				[]string{"-config", "cfg.yaml", "-metrics-backend", "none"},
				&stdout, &stderr,
				appDeps{
					loadConfig: func(path string) (*pipeline.Config, error) {
						require.Equal(t, "cfg.yaml", path)
						if tc.loadErr != nil {
							return nil, tc.loadErr
						}
						return validConfig(), nil
					},
					initMetrics: func(_ context.Context, mc metricsConfig) (func(), error) {
						require.Equal(t, "job1", mc.Job)
						require.Equal(t, "none", mc.Backend)
						if tc.metricsErr != nil {
							return func() {}, tc.metricsErr
						}
						return func() { cleanups.Add(1) }, nil
					},
					newRunner: func(*slog.Logger) runner { return fr },
				})

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderr != "" && !strings.Contains(stderr.String(), tc.wantStderr) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderr)
			}
			if !strings.Contains(stdout.String(), tc.wantStdoutPart) {
				t.Fatalf("stdout=%q, want contains %q", stdout.String(), tc.wantStdoutPart)
			}
			if got := fr.calls.Load(); got != tc.wantRuns {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRuns)
			}
			if got := cleanups.Load(); got != tc.wantCleanups {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanups)
			}
		})
	}
}

func TestRunMain_FlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(),
		[]string{
			"-config", "cfg.yaml", "-input", "other.csv", "-table", "s.items",
			"-pk", "a, b", "-kind", "postgres", "-dsn", "postgres://x", "-batch-size", "3", "-recreate",
		},
		&stdout, &stderr,
		appDeps{
			loadConfig:  func(string) (*pipeline.Config, error) { return validConfig(), nil },
			initMetrics: func(context.Context, metricsConfig) (func(), error) { return func() {}, nil },
			newRunner:   func(*slog.Logger) runner { return fr },
		})
	require.Equal(t, 0, code, stderr.String())

	cfg := fr.lastCfg
	require.Equal(t, "other.csv", cfg.Source.Path)
	require.Equal(t, "csv", cfg.Format())
	require.Equal(t, "s.items", cfg.Storage.Table)
	require.Equal(t, []string{"a", "b"}, cfg.Storage.PrimaryKey)
	require.Equal(t, "postgres", cfg.Storage.Kind)
	require.Equal(t, "postgres://x", cfg.Storage.DSN)
	require.Equal(t, 3, cfg.Runtime.BatchSize)
	require.True(t, cfg.Storage.Recreate)
}

func TestRunMain_ValidateOnlyAndInvalid(t *testing.T) {
	t.Parallel()

	deps := appDeps{
		loadConfig: func(string) (*pipeline.Config, error) { return validConfig(), nil },
		initMetrics: func(context.Context, metricsConfig) (func(), error) {
			t.Fatalf("initMetrics must not run for -validate")
			return nil, nil
		},
		newRunner: func(*slog.Logger) runner {
			t.Fatalf("newRunner must not run for -validate")
			return nil
		},
	}

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, runMain(context.Background(), []string{"-config", "c", "-validate"}, &stdout, &stderr, deps))
	require.Equal(t, "config ok\n", stdout.String())

	stdout.Reset()
	code := runMain(context.Background(), []string{"-config", "c", "-batch-size", "-1"}, &stdout, &stderr, deps)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "runtime.batch_size must be positive")
}

func TestRunMain_Probe(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := appDeps{
		loadConfig: func(string) (*pipeline.Config, error) {
			cfg := validConfig()
			cfg.Storage.Kind = "mssql"
			return cfg, nil
		},
		initMetrics: func(context.Context, metricsConfig) (func(), error) {
			t.Fatalf("initMetrics must not run for -probe")
			return nil, nil
		},
		newRunner: func(*slog.Logger) runner { return fr },
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "c", "-probe", "50", "-pk", "id"}, &stdout, &stderr, deps)
	require.Equal(t, 0, code, stderr.String())
	out := stdout.String()
	require.Contains(t, out, "table t sampled_rows=2")
	require.Contains(t, out, "NVARCHAR(MAX)")
	require.Contains(t, out, "pk auto")
	require.Contains(t, out, "skipped 1 unparseable inputs")
	require.Zero(t, fr.calls.Load(), "probe must not load")

	stdout.Reset()
	stderr.Reset()
	code = runMain(context.Background(), []string{"-config", "c", "-probe", "5", "-kind", "oracle"}, &stdout, &stderr, deps)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), `no type map for storage kind "oracle"`)
}

func TestRunMain_LoadsJSONIntoSQLite(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "")

	dir := t.TempDir()
	src := filepath.Join(dir, "people.json")
	require.NoError(t, os.WriteFile(src, []byte(`[{"name": "Ann", "age": 31}, {"name": "Bo", "age": 40}]`), 0o600))
	dsn := filepath.Join(dir, "out.db")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(),
		[]string{"-input", src, "-table", "people", "-pk", "id", "-dsn", dsn},
		&stdout, &stderr, defaultDeps())
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "loaded 2 records into people")

	ctx := context.Background()
	db, err := ingest.Open(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer db.Close()
	names, err := db.Table("people").ColumnNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "age"}, names)
}

func TestInitMetrics_None(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, name := range []string{"", "none", "NOOP"} {
		cleanup, err := initMetrics(context.Background(), metricsConfig{Job: "job", Backend: name})
		require.NoError(t, err)
		require.NotNil(t, cleanup)
		cleanup()
	}
}

func TestInitMetrics_Datadog(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}
	var gotOpts datadog.Options
	var set atomic.Int64

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() { newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog }()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (closingBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) { set.Add(1) }
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), metricsConfig{Job: "jobA", Backend: "dd", Tags: []string{"team:x"}})
	require.NoError(t, err)
	require.Equal(t, "jobA", gotOpts.JobName)
	require.Equal(t, []string{"team:x"}, gotOpts.Tags)
	require.Equal(t, int64(1), set.Load())

	cleanup()
	require.Equal(t, int64(1), b.closed.Load())
	require.Contains(t, logged.String(), "metrics: datadog close error: flush failed")

	// Construction failures leave metrics disabled.
	logged.Reset()
	newDatadogBackend = func(context.Context, datadog.Options) (closingBackend, error) {
		return nil, errors.New("no api key")
	}
	cleanup, err = initMetrics(context.Background(), metricsConfig{Backend: "datadog"})
	require.NoError(t, err)
	cleanup()
	require.Equal(t, int64(1), set.Load())
	require.Contains(t, logged.String(), "datadog metrics init: no api key")
}

func TestInitMetrics_PushgatewayFlushesOnCleanup(t *testing.T) {
	var pushes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/metrics/job/loader") {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	var installed metrics.Backend
	setMetricsBackend = func(b metrics.Backend) { installed = b }

	cleanup, err := initMetrics(context.Background(), metricsConfig{Job: "loader", Backend: "pushgateway", PushgatewayURL: srv.URL})
	require.NoError(t, err)
	require.NotNil(t, installed)
	cleanup()
	require.Equal(t, int64(1), pushes.Load())
}

func TestInitMetrics_UnknownBackend(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), metricsConfig{Backend: "statsd"})
	require.ErrorContains(t, err, `unknown metrics backend "statsd"`)
	require.NotNil(t, cleanup)
	cleanup()
}
