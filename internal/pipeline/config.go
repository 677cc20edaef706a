package pipeline

import (
	"errors"
	"fmt"
	"os"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"autotable/internal/parser"
	"autotable/internal/parser/csv"
	"autotable/internal/parser/html"
	"autotable/internal/semtype"
	"autotable/internal/transform"
)

// Config is one load job: where records come from, how they are parsed and
// which table receives them.
type Config struct {
	Job     string        `mapstructure:"job"`
	Source  SourceConfig  `mapstructure:"source"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Storage StorageConfig `mapstructure:"storage"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

type SourceConfig struct {
	// Path is a file, a directory of HTML files, an http(s) URL, or "-" for
	// stdin.
	Path string `mapstructure:"path"`
	// Format is json, csv or html. Empty picks it from the path extension.
	Format string `mapstructure:"format"`
	// HTTPTimeout bounds a URL fetch, body included.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type ParserConfig struct {
	HeaderMap          map[string]string `mapstructure:"header_map"`
	Columns            []string          `mapstructure:"columns"`
	ArrayJoinSeparator string            `mapstructure:"array_join_separator"`

	CSV  CSVConfig  `mapstructure:"csv"`
	HTML HTMLConfig `mapstructure:"html"`

	// RowHash adds a hash column, typically used as the primary key.
	RowHash transform.RowHash `mapstructure:"row_hash"`
}

type CSVConfig struct {
	HasHeader       bool   `mapstructure:"has_header"`
	Comma           string `mapstructure:"comma"`
	TrimSpace       bool   `mapstructure:"trim_space"`
	LazyQuotes      bool   `mapstructure:"lazy_quotes"`
	FieldsPerRecord int    `mapstructure:"fields_per_record"`
	Charset         string `mapstructure:"charset"`
	Coerce          bool   `mapstructure:"coerce"`
}

type HTMLConfig struct {
	RecordSelector string         `mapstructure:"record_selector"`
	Mappings       []html.Mapping `mapstructure:"mappings"`
	// MappingsFile is a JSON mapping file; it replaces RecordSelector and
	// Mappings when set.
	MappingsFile string `mapstructure:"mappings_file"`
	SourceColumn string `mapstructure:"source_column"`
}

type StorageConfig struct {
	// Kind is a registered backend: sqlite, postgres or mssql.
	Kind string `mapstructure:"kind"`
	// DSN is expanded with os.ExpandEnv.
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema"`
	Table  string `mapstructure:"table"`
	// PrimaryKey accepts a list or a comma separated string.
	PrimaryKey []string `mapstructure:"primary_key"`
	// ColumnTypes pins semantic types by column name when the table is
	// created; other columns are inferred.
	ColumnTypes map[string]string `mapstructure:"column_types"`
	// Recreate drops every table in the schema before loading.
	Recreate bool `mapstructure:"recreate"`
}

type RuntimeConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	ChannelBuffer int `mapstructure:"channel_buffer"`
}

// EnvPrefix prefixes environment overrides: AUTOTABLE_STORAGE_DSN overrides
// storage.dsn.
const EnvPrefix = "AUTOTABLE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("job", "autotable")
	v.SetDefault("source.path", "")
	v.SetDefault("source.format", "")
	v.SetDefault("source.http_timeout", 30*time.Second)
	v.SetDefault("parser.array_join_separator", "")
	v.SetDefault("parser.csv.has_header", true)
	v.SetDefault("parser.csv.comma", ",")
	v.SetDefault("parser.csv.trim_space", true)
	v.SetDefault("parser.csv.lazy_quotes", false)
	v.SetDefault("parser.csv.fields_per_record", 0)
	v.SetDefault("parser.csv.charset", "")
	v.SetDefault("parser.csv.coerce", false)
	v.SetDefault("parser.html.record_selector", "")
	v.SetDefault("parser.html.mappings_file", "")
	v.SetDefault("parser.html.source_column", "")
	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.schema", "")
	v.SetDefault("storage.table", "")
	v.SetDefault("storage.primary_key", []string{})
	v.SetDefault("storage.recreate", false)
	v.SetDefault("runtime.batch_size", 1000)
	v.SetDefault("runtime.channel_buffer", 256)
}

// LoadConfig reads a YAML or JSON config file and applies AUTOTABLE_*
// environment overrides. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize trims the format, expands the DSN and splits comma separated
// primary key entries. LoadConfig calls it; callers that edit a Config
// afterwards call it again.
func (c *Config) Normalize() {
	c.Source.Format = strings.ToLower(strings.TrimSpace(c.Source.Format))
	c.Storage.DSN = os.ExpandEnv(c.Storage.DSN)

	var pk []string
	for _, p := range c.Storage.PrimaryKey {
		for _, part := range strings.Split(p, ",") {
			if part = strings.TrimSpace(part); part != "" {
				pk = append(pk, part)
			}
		}
	}
	c.Storage.PrimaryKey = pk
}

// Format returns the configured format, or one guessed from the source path.
func (c *Config) Format() string {
	if c.Source.Format != "" {
		return c.Source.Format
	}
	p := c.Source.Path
	if isURL(p) {
		if u, err := url.Parse(p); err == nil {
			p = u.Path
		}
	} else if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return "html"
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json", ".jsonl", ".ndjson":
		return "json"
	case ".csv", ".tsv", ".txt":
		return "csv"
	case ".html", ".htm":
		return "html"
	}
	return ""
}

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// Validate reports every problem in the config at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.Path == "" {
		errs = append(errs, errors.New("source.path is required"))
	}
	switch f := c.Format(); f {
	case "json", "csv":
	case "html":
		if len(c.Parser.HTML.Mappings) == 0 && c.Parser.HTML.MappingsFile == "" {
			errs = append(errs, errors.New("parser.html needs mappings or mappings_file"))
		}
	case "":
		errs = append(errs, errors.New("source.format is required when the path has no known extension"))
	default:
		errs = append(errs, fmt.Errorf("source.format %q is not one of json, csv, html", f))
	}
	if c.Storage.Kind == "" {
		errs = append(errs, errors.New("storage.kind is required"))
	}
	if c.Storage.Table == "" {
		errs = append(errs, errors.New("storage.table is required"))
	}
	if _, err := c.ColumnTypes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.comma(); err != nil {
		errs = append(errs, err)
	}
	if c.Runtime.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("runtime.batch_size must be positive, got %d", c.Runtime.BatchSize))
	}
	return errors.Join(errs...)
}

// ColumnTypes parses storage.column_types.
func (c *Config) ColumnTypes() (map[string]semtype.Type, error) {
	if len(c.Storage.ColumnTypes) == 0 {
		return nil, nil
	}
	out := make(map[string]semtype.Type, len(c.Storage.ColumnTypes))
	for col, name := range c.Storage.ColumnTypes {
		t, err := semtype.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("storage.column_types.%s: %w", col, err)
		}
		out[col] = t
	}
	return out, nil
}

func (c *Config) comma() (rune, error) {
	s := c.Parser.CSV.Comma
	switch strings.ToLower(s) {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("parser.csv.comma %q must be a single character", s)
	}
	return r, nil
}

func (c *Config) shape() parser.Shape {
	return parser.Shape{
		HeaderMap:          c.Parser.HeaderMap,
		Columns:            c.Parser.Columns,
		ArrayJoinSeparator: c.Parser.ArrayJoinSeparator,
	}
}

func (c *Config) csvOptions() csv.Options {
	comma, _ := c.comma()
	return csv.Options{
		Shape:           c.shape(),
		HasHeader:       c.Parser.CSV.HasHeader,
		Comma:           comma,
		TrimSpace:       c.Parser.CSV.TrimSpace,
		LazyQuotes:      c.Parser.CSV.LazyQuotes,
		FieldsPerRecord: c.Parser.CSV.FieldsPerRecord,
		Charset:         c.Parser.CSV.Charset,
		Coerce:          c.Parser.CSV.Coerce,
	}
}

func (c *Config) htmlOptions() (html.Options, error) {
	opt := html.Options{
		Shape:          c.shape(),
		RecordSelector: c.Parser.HTML.RecordSelector,
		Mappings:       c.Parser.HTML.Mappings,
		SourceColumn:   c.Parser.HTML.SourceColumn,
	}
	if c.Parser.HTML.MappingsFile != "" {
		mf, err := html.LoadMappingFile(c.Parser.HTML.MappingsFile)
		if err != nil {
			return opt, err
		}
		opt.RecordSelector = mf.RecordSelector
		opt.Mappings = mf.Mappings
	}
	return opt, nil
}
