// TableSpec and TableInfo live here so the ingestion layer and the backend
// packages can share them without import cycles.
package storage

import (
	"fmt"
	"strings"

	"autotable/internal/semtype"
)

// TableRef names a table, optionally inside a schema (namespace). An empty
// Schema means the backend's default.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
}

// ParseTableRef splits "schema.table"; a name without a dot has no schema.
func ParseTableRef(s string) TableRef {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); i > 0 {
		return TableRef{Schema: s[:i], Name: s[i+1:]}
	}
	return TableRef{Name: s}
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// ExistencePolicy decides what creating an existing table does.
type ExistencePolicy string

const (
	IfExistsError   ExistencePolicy = "error"
	IfExistsReplace ExistencePolicy = "replace"
)

// ParseExistencePolicy accepts "", "error", "fail" and "replace".
func ParseExistencePolicy(s string) (ExistencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error", "fail":
		return IfExistsError, nil
	case "replace":
		return IfExistsReplace, nil
	}
	return "", fmt.Errorf("storage: unknown existence policy %q", s)
}

// Column describes one column, both when creating a table and when a
// backend describes an existing one.
type Column struct {
	Name string       `json:"name"`
	Type semtype.Type `json:"type"`
	// NativeType is the backend type name. When set on a create request it
	// overrides the type map.
	NativeType    string  `json:"native_type,omitempty"`
	Nullable      bool    `json:"nullable"`
	Default       *string `json:"default,omitempty"`
	PrimaryKey    bool    `json:"primary_key,omitempty"`
	Autoincrement bool    `json:"autoincrement,omitempty"`
	Position      int     `json:"position"`
}

// TableSpec is a create-table request.
type TableSpec struct {
	Ref        TableRef        `json:"ref"`
	Columns    []Column        `json:"columns"`
	PrimaryKey []string        `json:"primary_key,omitempty"`
	IfExists   ExistencePolicy `json:"if_exists,omitempty"`
}

// Validate checks the structural rules every backend relies on:
//   - the table has a name and at least one column
//   - column names are non-empty and unique
//   - primary key columns exist
//   - at most one column autoincrements, and it is part of the primary key
func (s TableSpec) Validate() error {
	if strings.TrimSpace(s.Ref.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("storage: table %s has no columns", s.Ref)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	auto := 0
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("storage: table %s has a column without a name", s.Ref)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("storage: duplicate column %q in %s", c.Name, s.Ref)
		}
		seen[c.Name] = struct{}{}
		if c.Autoincrement {
			auto++
		}
	}
	pk := make(map[string]struct{}, len(s.PrimaryKey))
	for _, name := range s.PrimaryKey {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("storage: primary key column %q not in %s", name, s.Ref)
		}
		pk[name] = struct{}{}
	}
	if auto > 1 {
		return fmt.Errorf("storage: table %s has %d autoincrement columns", s.Ref, auto)
	}
	for _, c := range s.Columns {
		if _, ok := pk[c.Name]; c.Autoincrement && !ok {
			return fmt.Errorf("storage: autoincrement column %q is not part of the primary key", c.Name)
		}
	}
	return nil
}

// TableInfo is the catalog's description of an existing table.
type TableInfo struct {
	Ref        TableRef `json:"ref"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key,omitempty"`
}

func (t TableInfo) HasPrimaryKey() bool { return len(t.PrimaryKey) > 0 }

func (t TableInfo) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t TableInfo) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
