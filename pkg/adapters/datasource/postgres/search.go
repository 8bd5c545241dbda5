package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

const textSearchConfig = "english"

// Searcher composes and executes tsvector match statements over one tenant
// database. Every identifier it interpolates comes from the discovered
// schema; user input only ever travels as a bind parameter.
type Searcher struct {
	pool    *pgxpool.Pool
	catalog *Catalog
	logger  *zap.Logger
}

// NewSearcher creates a PostgreSQL full-text searcher over a borrowed pool.
func NewSearcher(pool *pgxpool.Pool, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		pool:    pool,
		catalog: NewCatalog(pool, logger),
		logger:  logger,
	}
}

// qualifyTable quotes a catalog table key for interpolation. Keys are bare
// for public tables and schema-qualified otherwise.
func qualifyTable(key string) string {
	return pgx.Identifier(strings.Split(key, ".")).Sanitize()
}

func tsqueryFunc(mode models.SearchMode) string {
	if mode == models.SearchModeBoolean {
		return "websearch_to_tsquery"
	}
	return "plainto_tsquery"
}

// searchSegment is the per-table slice of the union statement.
type searchSegment struct {
	table   string
	columns []string
}

// planSegments filters the discovered schema down to the tables and columns
// the statement will touch. A table with no eligible full-text column
// contributes no segment and no error; such tables come back in skipped so
// the caller can record them.
func planSegments(schemas []models.TableSchema, opts datasource.SearchOptions) (segments []searchSegment, skipped []string) {
	wantTable := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		wantTable[t] = true
	}
	wantColumn := make(map[string]bool, len(opts.Columns))
	for _, c := range opts.Columns {
		wantColumn[c] = true
	}

	for _, schema := range schemas {
		if len(wantTable) > 0 && !wantTable[schema.Table] {
			continue
		}

		seen := make(map[string]bool)
		var columns []string
		for _, idx := range schema.FullTextIndexes {
			for _, col := range idx.Columns {
				if seen[col] {
					continue
				}
				if len(wantColumn) > 0 && !wantColumn[col] {
					continue
				}
				seen[col] = true
				columns = append(columns, col)
			}
		}
		if len(columns) == 0 {
			skipped = append(skipped, schema.Table)
			continue
		}
		segments = append(segments, searchSegment{table: schema.Table, columns: columns})
	}
	return segments, skipped
}

// buildSearchSQL composes one UNION ALL statement over the planned segments.
// Shape per segment: table tag, matched column list, a jsonb object holding
// the matched columns' values, and the rank. $1 is the query text, $2 the
// limit, $3 the offset.
func buildSearchSQL(segments []searchSegment, mode models.SearchMode) string {
	tsquery := tsqueryFunc(mode)

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		quoted := make([]string, len(seg.columns))
		jsonPairs := make([]string, len(seg.columns))
		for i, col := range seg.columns {
			quoted[i] = fmt.Sprintf("coalesce(%s::text, '')", pgx.Identifier{col}.Sanitize())
			jsonPairs[i] = fmt.Sprintf("'%s', %s", strings.ReplaceAll(col, "'", "''"), pgx.Identifier{col}.Sanitize())
		}
		vector := fmt.Sprintf("to_tsvector('%s', %s)", textSearchConfig, strings.Join(quoted, " || ' ' || "))
		query := fmt.Sprintf("%s('%s', $1)", tsquery, textSearchConfig)

		parts = append(parts, fmt.Sprintf(
			"SELECT '%s' AS _table, '%s' AS _cols, jsonb_build_object(%s) AS _data, ts_rank(%s, %s)::float8 AS _score FROM %s WHERE %s @@ %s",
			strings.ReplaceAll(seg.table, "'", "''"),
			strings.Join(seg.columns, ","),
			strings.Join(jsonPairs, ", "),
			vector, query,
			qualifyTable(seg.table),
			vector, query,
		))
	}

	return fmt.Sprintf(
		"SELECT _table, _cols, _data, _score FROM (%s) AS _hits ORDER BY _score DESC LIMIT $2 OFFSET $3",
		strings.Join(parts, " UNION ALL "),
	)
}

// ExecuteFullTextSearch discovers the tenant schema, unions a match statement
// per full-text indexed table, and returns rows ordered by rank descending.
func (s *Searcher) ExecuteFullTextSearch(ctx context.Context, query string, opts datasource.SearchOptions) ([]datasource.MatchedRow, error) {
	schemas, err := s.catalog.Discover(ctx)
	if err != nil {
		return nil, err
	}

	segments, skipped := planSegments(schemas, opts)
	for _, table := range skipped {
		s.logger.Warn("table has no full-text indexed column, skipping",
			zap.String("table", table))
	}
	if len(segments) == 0 {
		return nil, nil
	}

	sqlText := buildSearchSQL(segments, opts.Mode)
	rows, err := s.pool.Query(ctx, sqlText, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres full-text query: %v", apperrors.ErrSearchFailed, err)
	}
	defer rows.Close()

	var matched []datasource.MatchedRow
	for rows.Next() {
		var table, cols string
		var data map[string]any
		var score float64
		if err := rows.Scan(&table, &cols, &data, &score); err != nil {
			return nil, fmt.Errorf("%w: scan match row: %v", apperrors.ErrSearchFailed, err)
		}
		matched = append(matched, datasource.MatchedRow{
			Table:          table,
			MatchedColumns: strings.Split(cols, ","),
			Data:           data,
			Relevance:      score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate match rows: %v", apperrors.ErrSearchFailed, err)
	}

	return matched, nil
}

// GetSearchSuggestions probes full-text indexed columns for distinct values
// starting with the partial query. Best effort: per-column probe failures
// are logged and skipped so one odd column cannot sink completion.
func (s *Searcher) GetSearchSuggestions(ctx context.Context, partialQuery string, tables []string, limit int) ([]string, error) {
	schemas, err := s.catalog.Discover(ctx)
	if err != nil {
		return nil, err
	}

	segments, _ := planSegments(schemas, datasource.SearchOptions{Tables: tables})
	pattern := escapeLikePattern(partialQuery) + "%"

	seen := make(map[string]bool)
	var suggestions []string
	for _, seg := range segments {
		for _, col := range seg.columns {
			if len(suggestions) >= limit {
				return suggestions, nil
			}
			probe := fmt.Sprintf(
				"SELECT DISTINCT %s::text FROM %s WHERE %s::text ILIKE $1 LIMIT $2",
				pgx.Identifier{col}.Sanitize(),
				qualifyTable(seg.table),
				pgx.Identifier{col}.Sanitize(),
			)
			values, err := s.probeColumn(ctx, probe, pattern, limit-len(suggestions))
			if err != nil {
				s.logger.Debug("suggestion probe failed",
					zap.String("table", seg.table),
					zap.String("column", col),
					zap.Error(err),
				)
				continue
			}
			for _, v := range values {
				if seen[v] {
					continue
				}
				seen[v] = true
				suggestions = append(suggestions, v)
			}
		}
	}
	return suggestions, nil
}

func (s *Searcher) probeColumn(ctx context.Context, probe, pattern string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, probe, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// AnalyzeQueryPerformance runs EXPLAIN over a read-only statement and
// returns the JSON plan rows. The statement is planned, never executed.
func (s *Searcher) AnalyzeQueryPerformance(ctx context.Context, rawQuery string) ([]map[string]any, error) {
	if err := validateReadOnly(rawQuery); err != nil {
		return nil, err
	}

	var plan []map[string]any
	if err := s.pool.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+rawQuery).Scan(&plan); err != nil {
		return nil, fmt.Errorf("explain query: %w", err)
	}
	return plan, nil
}

// validateReadOnly rejects anything that is not a single SELECT or WITH
// statement before it reaches the planner.
func validateReadOnly(rawQuery string) error {
	trimmed := strings.TrimSpace(rawQuery)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT statements can be analyzed")
	}
	return nil
}

var _ datasource.FullTextSearcher = (*Searcher)(nil)
