package models

import (
	"time"

	"github.com/google/uuid"
)

// Dialect identifies the kind of database a tenant connection points at.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectSQLServer Dialect = "sqlserver"
)

// TenantConnection describes one tenant-owned database. The password field
// is plaintext only in flight: the repository persists it encrypted and the
// pool manager receives it decrypted at registration time.
type TenantConnection struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Dialect   Dialect   `json:"dialect"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Database  string    `json:"database"`
	TLSMode   string    `json:"tls_mode"` // "disable", "require", or a named verify profile
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
