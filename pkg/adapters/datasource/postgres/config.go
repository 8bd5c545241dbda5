package postgres

import (
	"fmt"
	"net/url"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// sslModeFor maps the dialect-neutral TLS mode onto libpq sslmode values.
func sslModeFor(tlsMode string) string {
	switch tlsMode {
	case "disable":
		return "disable"
	case "require", "":
		return DefaultSSLMode()
	default:
		// verify profiles pass through unchanged (verify-ca, verify-full)
		return tlsMode
	}
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// IMPORTANT: All user-provided fields must be URL-escaped to handle special
// characters in passwords (e.g., @, /, #, ?) that would otherwise break URL
// parsing.
func buildConnectionString(conn models.TenantConnection) string {
	port := conn.Port
	if port == 0 {
		port = DefaultPort()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(conn.Username),
		url.QueryEscape(conn.Password),
		conn.Host,
		port,
		url.QueryEscape(conn.Database),
		sslModeFor(conn.TLSMode),
	)
}
