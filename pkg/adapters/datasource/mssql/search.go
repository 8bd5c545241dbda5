package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// Searcher composes and executes FREETEXTTABLE/CONTAINSTABLE statements over
// one tenant SQL Server database. Every interpolated identifier comes from
// the sys catalog views; user input only ever travels as a bind parameter.
type Searcher struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSearcher creates a SQL Server full-text searcher over a borrowed pool.
func NewSearcher(db *sql.DB, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{db: db, logger: logger}
}

// ftsTable is one full-text indexed table with the unique key column the
// rank table joins back on.
type ftsTable struct {
	schema    string
	table     string
	keyColumn string
	columns   []string
}

func (t ftsTable) key() string {
	return tableKey(t.schema, t.table)
}

// discoverFullTextTables lists every full-text indexed table with its key
// column and indexed columns.
func (s *Searcher) discoverFullTextTables(ctx context.Context) ([]ftsTable, error) {
	const query = `
		SELECT s.name, t.name, kc.name, c.name
		FROM sys.fulltext_indexes fi
		JOIN sys.tables t ON t.object_id = fi.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.index_columns ic ON ic.object_id = fi.object_id AND ic.index_id = fi.unique_index_id
		JOIN sys.columns kc ON kc.object_id = ic.object_id AND kc.column_id = ic.column_id
		JOIN sys.fulltext_index_columns fic ON fic.object_id = fi.object_id
		JOIN sys.columns c ON c.object_id = fic.object_id AND c.column_id = fic.column_id
		ORDER BY s.name, t.name, fic.column_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query full-text tables: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}
	defer rows.Close()

	byKey := make(map[string]*ftsTable)
	var order []string

	for rows.Next() {
		var schemaName, tableName, keyColumn, columnName string
		if err := rows.Scan(&schemaName, &tableName, &keyColumn, &columnName); err != nil {
			return nil, fmt.Errorf("%w: scan full-text table: %v", apperrors.ErrSchemaDiscoveryFailed, err)
		}
		key := tableKey(schemaName, tableName)
		t, ok := byKey[key]
		if !ok {
			t = &ftsTable{schema: schemaName, table: tableName, keyColumn: keyColumn}
			byKey[key] = t
			order = append(order, key)
		}
		t.columns = append(t.columns, columnName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate full-text tables: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}

	tables := make([]ftsTable, 0, len(order))
	for _, key := range order {
		tables = append(tables, *byKey[key])
	}
	return tables, nil
}

// planTables filters discovered full-text tables by the request's table and
// column restrictions. Tables left without an eligible column come back in
// skipped so the caller can record them.
func planTables(tables []ftsTable, opts datasource.SearchOptions) (planned []ftsTable, skipped []string) {
	wantTable := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		wantTable[t] = true
	}
	wantColumn := make(map[string]bool, len(opts.Columns))
	for _, c := range opts.Columns {
		wantColumn[c] = true
	}

	for _, t := range tables {
		if len(wantTable) > 0 && !wantTable[t.key()] {
			continue
		}
		columns := t.columns
		if len(wantColumn) > 0 {
			columns = nil
			for _, col := range t.columns {
				if wantColumn[col] {
					columns = append(columns, col)
				}
			}
		}
		if len(columns) == 0 {
			skipped = append(skipped, t.key())
			continue
		}
		planned = append(planned, ftsTable{
			schema:    t.schema,
			table:     t.table,
			keyColumn: t.keyColumn,
			columns:   columns,
		})
	}
	return planned, skipped
}

func rankTableFunc(mode models.SearchMode) string {
	if mode == models.SearchModeBoolean {
		return "CONTAINSTABLE"
	}
	return "FREETEXTTABLE"
}

// buildSearchSQL composes one UNION ALL statement over the planned tables.
// Shape per segment: table tag, matched column list, a JSON object holding
// the matched columns' values, and the rank. @p1 is the query text, @p2 the
// limit, @p3 the offset.
func buildSearchSQL(tables []ftsTable, mode models.SearchMode) string {
	rankFunc := rankTableFunc(mode)

	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		quoted := make([]string, len(t.columns))
		jsonCols := make([]string, len(t.columns))
		for i, col := range t.columns {
			quoted[i] = quoteName(col)
			jsonCols[i] = fmt.Sprintf("src.%s AS %s", quoteName(col), quoteName(col))
		}
		qualified := buildFullyQualifiedName(t.schema, t.table)

		parts = append(parts, fmt.Sprintf(
			"SELECT N'%s' AS _table, N'%s' AS _cols, (SELECT %s FOR JSON PATH, WITHOUT_ARRAY_WRAPPER) AS _data, CAST(ft.RANK AS float) AS _score FROM %s(%s, (%s), @p1) ft JOIN %s src ON src.%s = ft.[KEY]",
			escapeStringLiteral(t.key()),
			escapeStringLiteral(strings.Join(t.columns, ",")),
			strings.Join(jsonCols, ", "),
			rankFunc,
			qualified,
			strings.Join(quoted, ", "),
			qualified,
			quoteName(t.keyColumn),
		))
	}

	return fmt.Sprintf(
		"SELECT _table, _cols, _data, _score FROM (%s) AS _hits ORDER BY _score DESC OFFSET @p3 ROWS FETCH NEXT @p2 ROWS ONLY",
		strings.Join(parts, " UNION ALL "),
	)
}

// ExecuteFullTextSearch discovers the full-text indexed tables, unions one
// rank-table statement per table, and returns rows ordered by rank
// descending.
func (s *Searcher) ExecuteFullTextSearch(ctx context.Context, query string, opts datasource.SearchOptions) ([]datasource.MatchedRow, error) {
	tables, err := s.discoverFullTextTables(ctx)
	if err != nil {
		return nil, err
	}

	planned, skipped := planTables(tables, opts)
	for _, table := range skipped {
		s.logger.Warn("table has no full-text indexed column, skipping",
			zap.String("table", table))
	}
	if len(planned) == 0 {
		return nil, nil
	}

	sqlText := buildSearchSQL(planned, opts.Mode)
	rows, err := s.db.QueryContext(ctx, sqlText, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlserver full-text query: %v", apperrors.ErrSearchFailed, err)
	}
	defer rows.Close()

	var matched []datasource.MatchedRow
	for rows.Next() {
		var table, cols string
		var rawData sql.NullString
		var score float64
		if err := rows.Scan(&table, &cols, &rawData, &score); err != nil {
			return nil, fmt.Errorf("%w: scan match row: %v", apperrors.ErrSearchFailed, err)
		}

		data := make(map[string]any)
		if rawData.Valid && rawData.String != "" {
			if err := json.Unmarshal([]byte(rawData.String), &data); err != nil {
				return nil, fmt.Errorf("%w: decode match row: %v", apperrors.ErrSearchFailed, err)
			}
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
// are logged and skipped.
func (s *Searcher) GetSearchSuggestions(ctx context.Context, partialQuery string, tables []string, limit int) ([]string, error) {
	ftsTables, err := s.discoverFullTextTables(ctx)
	if err != nil {
		return nil, err
	}

	planned, _ := planTables(ftsTables, datasource.SearchOptions{Tables: tables})
	pattern := escapeLikePattern(partialQuery) + "%"

	seen := make(map[string]bool)
	var suggestions []string
	for _, t := range planned {
		for _, col := range t.columns {
			if len(suggestions) >= limit {
				return suggestions, nil
			}
			probe := fmt.Sprintf(
				"SELECT DISTINCT TOP (@p2) %s FROM %s WHERE %s LIKE @p1 ESCAPE '\\'",
				quoteName(col),
				buildFullyQualifiedName(t.schema, t.table),
				quoteName(col),
			)
			values, err := s.probeColumn(ctx, probe, pattern, limit-len(suggestions))
			if err != nil {
				s.logger.Debug("suggestion probe failed",
					zap.String("table", t.key()),
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
	rows, err := s.db.QueryContext(ctx, probe, pattern, limit)
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
	s = strings.ReplaceAll(s, "_", `\_`)
	return strings.ReplaceAll(s, "[", `\[`)
}

// AnalyzeQueryPerformance returns the estimated execution plan rows for a
// read-only statement. SHOWPLAN_ALL is session scoped, so the whole exchange
// is pinned to one connection and the flag is always reset.
func (s *Searcher) AnalyzeQueryPerformance(ctx context.Context, rawQuery string) ([]map[string]any, error) {
	if err := validateReadOnly(rawQuery); err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET SHOWPLAN_ALL ON"); err != nil {
		return nil, fmt.Errorf("enable showplan: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SET SHOWPLAN_ALL OFF")
	}()

	rows, err := conn.QueryContext(ctx, rawQuery)
	if err != nil {
		return nil, fmt.Errorf("explain query: %w", err)
	}
	defer rows.Close()

	return scanGenericRows(rows)
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

// scanGenericRows reads every row into a column-keyed map, converting byte
// slices to strings for JSON friendliness.
func scanGenericRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read plan columns: %w", err)
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

var _ datasource.FullTextSearcher = (*Searcher)(nil)
