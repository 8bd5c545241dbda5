package mssql

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// buildConnectionString builds a sqlserver:// URL. User-provided fields are
// URL-escaped so special characters in passwords survive parsing.
func buildConnectionString(conn models.TenantConnection) string {
	port := conn.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	query.Add("database", conn.Database)

	switch conn.TLSMode {
	case "disable":
		query.Add("encrypt", "false")
	case "require", "":
		query.Add("encrypt", "true")
		// "require" means encrypted transport without CA verification
		query.Add("TrustServerCertificate", "true")
	default:
		query.Add("encrypt", "true")
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(conn.Username),
		url.QueryEscape(conn.Password),
		conn.Host,
		port,
		query.Encode(),
	)
}

// parseSchemaTable splits a table key into schema and table.
// A bare name belongs to the default "dbo" schema.
func parseSchemaTable(tableName string) (string, string) {
	cleaned := strings.ReplaceAll(tableName, "[", "")
	cleaned = strings.ReplaceAll(cleaned, "]", "")

	parts := strings.SplitN(cleaned, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "dbo", cleaned
}

// quoteName brackets an identifier, escaping ] as ]] the way QUOTENAME does.
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// escapeStringLiteral escapes a string for a SQL Server N'' literal.
func escapeStringLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// buildFullyQualifiedName builds [schema].[table].
func buildFullyQualifiedName(schema, table string) string {
	return fmt.Sprintf("%s.%s", quoteName(schema), quoteName(table))
}
