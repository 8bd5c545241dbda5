package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrConnectionUnreachable  = errors.New("tenant connection unreachable")
	ErrSchemaDiscoveryFailed  = errors.New("schema discovery failed")
	ErrSearchFailed           = errors.New("search failed for all tenants")
	ErrUnsupportedDialect     = errors.New("unsupported datasource dialect")
	ErrCredentialsKeyMismatch = errors.New("tenant credentials were encrypted with a different key")
)
