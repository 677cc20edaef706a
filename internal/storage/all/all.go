// Package all registers every storage backend.
package all

import (
	"autotable/internal/storage"
	"autotable/internal/storage/mssql"
	"autotable/internal/storage/postgres"
	"autotable/internal/storage/sqlite"
)

// TypeMap returns the default type map of a built-in backend without
// connecting to it.
func TypeMap(kind string) (*storage.TypeMap, bool) {
	switch kind {
	case "sqlite":
		return sqlite.DefaultTypes, true
	case "postgres":
		return postgres.DefaultTypes, true
	case "mssql":
		return mssql.DefaultTypes, true
	}
	return nil, false
}
