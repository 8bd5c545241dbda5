// Package datasource manages per-tenant database connection pools and the
// dialect adapters that discover schemas and execute native full-text
// searches against them.
package datasource

import (
	"context"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// PoolConnector abstracts a bounded connection pool for one tenant database.
// Implementations own the underlying pool and are closed exactly once, by
// the PoolManager that registered them.
type PoolConnector interface {
	// Ping verifies the pool can reach the database.
	Ping(ctx context.Context) error

	// Close drains and closes all connections in the pool.
	Close() error

	// Dialect returns the database dialect for logging and stats.
	Dialect() models.Dialect
}

// SchemaCatalog discovers tables, columns and full-text indexes for one
// tenant connection. Discovery is read-only introspection and is never
// cached by the catalog itself.
type SchemaCatalog interface {
	// Discover returns the full schema list for the tenant, or an error
	// wrapping apperrors.ErrSchemaDiscoveryFailed. It never returns a
	// partial result.
	Discover(ctx context.Context) ([]models.TableSchema, error)
}

// SearchOptions restricts and pages a full-text search against one tenant.
type SearchOptions struct {
	// Tables restricts the search to these tables; empty means every table
	// that carries a full-text index.
	Tables []string
	// Columns restricts matching to these columns; an index whose column
	// set does not intersect the restriction is dropped.
	Columns []string
	Mode    models.SearchMode
	Limit   int
	Offset  int
}

// MatchedRow is one relevance-scored row returned by a tenant search.
// The row data holds only the matched columns' values; relevance and the
// table tag are typed fields, not row map entries.
type MatchedRow struct {
	Table          string
	MatchedColumns []string
	Data           map[string]any
	Relevance      float64
}

// FullTextSearcher composes and executes native full-text match statements
// against one tenant connection. It surfaces raw errors; partial-failure
// policy belongs to the orchestrator.
type FullTextSearcher interface {
	// ExecuteFullTextSearch unions per-index match statements for the
	// requested tables and returns rows ordered by relevance descending.
	// Tables without a full-text index contribute no rows and no error.
	ExecuteFullTextSearch(ctx context.Context, query string, opts SearchOptions) ([]MatchedRow, error)

	// GetSearchSuggestions probes full-text indexed columns for distinct
	// values matching the partial query, case-insensitively, up to limit.
	// Best-effort: a completion source, not authoritative.
	GetSearchSuggestions(ctx context.Context, partialQuery string, tables []string, limit int) ([]string, error)

	// AnalyzeQueryPerformance runs the native planner over the caller's
	// statement and returns its plan rows verbatim. The statement goes
	// through the planner only, never row retrieval. Privileged path;
	// permission gating happens at the HTTP boundary.
	AnalyzeQueryPerformance(ctx context.Context, rawQuery string) ([]map[string]any, error)
}
