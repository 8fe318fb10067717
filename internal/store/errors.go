package store

import "codeberg.org/mutker/pzemd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrInvalidBackend = errors.ErrorCode("store_invalid_backend")
	ErrInvalidDBPath  = errors.ErrorCode("store_invalid_db_path")
	ErrMissingInflux  = errors.ErrorCode("store_missing_influxdb_settings")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrQueryFailed  = errors.ErrorCode("store_query_failed")
	ErrWriteFailed  = errors.ErrorCode("store_write_failed")
	ErrInvalidField = errors.ErrorCode("store_invalid_field")
	ErrUnreachable  = errors.ErrorCode("store_unreachable")
	ErrClosed       = errors.ErrorCode("store_closed")
)
