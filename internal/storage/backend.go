package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"autotable/internal/record"
)

// Config is the minimal configuration needed to open a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Backend is a connection to one relational database.
type Backend interface {
	// Kind is the registry key, e.g. "sqlite".
	Kind() string

	// TypeMap is the backend's default semantic→native mapping. Callers may
	// derive their own with With/Without and hand it to the ingestion layer.
	TypeMap() *TypeMap

	// Begin opens a unit of work. Every Session must end with Commit or
	// Rollback.
	Begin(ctx context.Context) (Session, error)

	// Close releases connections. Call once.
	Close()
}

// Session is one transaction. Catalog reads inside a session see the
// session's own DDL.
type Session interface {
	// TableNames lists tables in schema ("" = backend default).
	TableNames(ctx context.Context, schema string) ([]string, error)

	// DescribeTable returns columns in ordinal order and the primary key in
	// key order. Returns ErrTableNotFound when the table is absent.
	DescribeTable(ctx context.Context, ref TableRef) (TableInfo, error)

	// CreateTable executes DDL for spec. Native types come from the column's
	// NativeType, which callers fill from a TypeMap.
	CreateTable(ctx context.Context, spec TableSpec) error

	// DropTable returns ErrTableNotFound when the table is absent.
	DropTable(ctx context.Context, ref TableRef) error

	// InsertRows executes parameterized multi-row INSERT statements. Every row
	// has one value per column; nil is NULL. With no columns each row is
	// inserted with default values.
	InsertRows(ctx context.Context, ref TableRef, cols []Column, rows [][]any) (int64, error)

	// BulkInsert submits rows through the backend's batched driver path
	// (named batch, COPY, bulk copy). Same row shape as InsertRows.
	BulkInsert(ctx context.Context, ref TableRef, cols []Column, rows [][]any) (int64, error)

	// SelectRows reads every row, ordered by orderBy when given.
	SelectRows(ctx context.Context, ref TableRef, orderBy []string) ([]record.Record, error)

	// Query runs raw SQL and returns each row as a record in column order.
	Query(ctx context.Context, query string, args ...any) ([]record.Record, error)

	Commit(ctx context.Context) error

	// Rollback is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Factory opens a backend for cfg.
type Factory func(ctx context.Context, cfg Config) (Backend, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Backend using the registered factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
