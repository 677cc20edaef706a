package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autotable/internal/semtype"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_YAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTOTABLE_TEST_DIR", dir)
	path := writeFile(t, dir, "job.yaml", `
job: people
source:
  path: people.csv
parser:
  header_map:
    Full Name: name
  csv:
    comma: ";"
    coerce: true
storage:
  dsn: ${AUTOTABLE_TEST_DIR}/out.db
  table: people
  primary_key: id, code
  column_types:
    code: text
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "people", cfg.Job)
	require.Equal(t, 30*time.Second, cfg.Source.HTTPTimeout)
	require.Equal(t, "csv", cfg.Format())
	require.Equal(t, "sqlite", cfg.Storage.Kind)
	require.Equal(t, filepath.Join(dir, "out.db"), cfg.Storage.DSN)
	require.Equal(t, []string{"id", "code"}, cfg.Storage.PrimaryKey)
	require.Equal(t, 1000, cfg.Runtime.BatchSize)
	require.Equal(t, map[string]string{"full name": "name"}, cfg.Parser.HeaderMap, "viper lowercases map keys")

	opt := cfg.csvOptions()
	require.True(t, opt.HasHeader)
	require.True(t, opt.TrimSpace)
	require.True(t, opt.Coerce)
	require.Equal(t, ';', opt.Comma)

	types, err := cfg.ColumnTypes()
	require.NoError(t, err)
	require.Equal(t, map[string]semtype.Type{"code": semtype.Text}, types)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "job.json", `{"source": {"path": "a.json"}, "storage": {"table": "a", "kind": "sqlite"}}`)

	t.Setenv("AUTOTABLE_STORAGE_TABLE", "b")
	t.Setenv("AUTOTABLE_RUNTIME_BATCH_SIZE", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "b", cfg.Storage.Table)
	require.Equal(t, 7, cfg.Runtime.BatchSize)
	require.Equal(t, "json", cfg.Format())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Runtime.BatchSize = 0
	cfg.Storage.ColumnTypes = map[string]string{"x": "nonsense"}
	cfg.Parser.CSV.Comma = ";;"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"source.path is required",
		"source.format is required",
		"storage.kind is required",
		"storage.table is required",
		"storage.column_types.x",
		"must be a single character",
		"runtime.batch_size must be positive",
	} {
		require.ErrorContains(t, err, want)
	}

	cfg = &Config{}
	cfg.Source.Path = "page.html"
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.Table = "t"
	cfg.Runtime.BatchSize = 1
	require.ErrorContains(t, cfg.Validate(), "parser.html needs mappings")

	cfg.Source.Format = "xml"
	require.ErrorContains(t, cfg.Validate(), `"xml" is not one of`)
}

func TestConfigFormatAndComma(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"a.JSONL", "json"},
		{"a.tsv", "csv"},
		{"a.htm", "html"},
		{"a.bin", ""},
		{t.TempDir(), "html"},
		{"https://example.com/export/items.csv?page=2", "csv"},
		{"http://example.com/", ""},
	}
	for _, tc := range tests {
		c := &Config{Source: SourceConfig{Path: tc.path}}
		if got := c.Format(); got != tc.want {
			t.Fatalf("Format(%q)=%q, want %q", tc.path, got, tc.want)
		}
	}

	for in, want := range map[string]rune{"": ',', "tab": '\t', `\t`: '\t', "|": '|'} {
		c := &Config{Parser: ParserConfig{CSV: CSVConfig{Comma: in}}}
		got, err := c.comma()
		require.NoError(t, err)
		require.Equal(t, want, got, "comma %q", in)
	}
}
