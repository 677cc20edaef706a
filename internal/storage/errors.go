package storage

import "errors"

// Failure taxonomy shared by backends and the ingestion layer. Callers match
// with errors.Is; the backend cause stays in the chain.
var (
	ErrTableAlreadyExists = errors.New("table already exists")
	ErrTableNotFound      = errors.New("table not found")
	ErrCreationFailed     = errors.New("table creation failed")
	ErrUnsupportedType    = errors.New("unsupported column type")
	ErrMissingPrimaryKey  = errors.New("table has no primary key")
	ErrInsertFailed       = errors.New("insert failed")
	ErrEmptySchemaSource  = errors.New("no rows to derive a schema from")
)
