package ingest

import "autotable/internal/storage"

// Errors returned by this package. They are the storage sentinels, so a
// caller may match either name with errors.Is.
var (
	ErrTableAlreadyExists = storage.ErrTableAlreadyExists
	ErrTableNotFound      = storage.ErrTableNotFound
	ErrCreationFailed     = storage.ErrCreationFailed
	ErrUnsupportedType    = storage.ErrUnsupportedType
	ErrMissingPrimaryKey  = storage.ErrMissingPrimaryKey
	ErrInsertFailed       = storage.ErrInsertFailed
	ErrEmptySchemaSource  = storage.ErrEmptySchemaSource
)
