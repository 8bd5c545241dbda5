package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// searchableTypes are the column types eligible for full-text matching.
// information_schema reports canonical type names, not aliases.
var searchableTypes = map[string]bool{
	"text":              true,
	"character varying": true,
	"character":         true,
	"citext":            true,
	"name":              true,
}

// Catalog discovers tables, columns and tsvector-backed indexes for one
// tenant database. It borrows the pool and never closes it.
type Catalog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewCatalog creates a PostgreSQL schema catalog over a borrowed pool.
func NewCatalog(pool *pgxpool.Pool, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{pool: pool, logger: logger}
}

// tableKey names a table the way the rest of the engine refers to it:
// bare for public, schema-qualified otherwise.
func tableKey(schemaName, tableName string) string {
	if schemaName == "public" || schemaName == "" {
		return tableName
	}
	return schemaName + "." + tableName
}

// Discover introspects the tenant database and returns every user table
// with its columns, row estimate and full-text indexes. Any introspection
// failure aborts the whole discovery; no partial result is returned.
func (c *Catalog) Discover(ctx context.Context) ([]models.TableSchema, error) {
	var database string
	if err := c.pool.QueryRow(ctx, "SELECT current_database()").Scan(&database); err != nil {
		return nil, fmt.Errorf("%w: current database: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}

	tables, order, err := c.discoverTables(ctx, database)
	if err != nil {
		return nil, err
	}

	if err := c.discoverColumns(ctx, tables); err != nil {
		return nil, err
	}

	if err := c.discoverFullTextIndexes(ctx, tables); err != nil {
		return nil, err
	}

	result := make([]models.TableSchema, 0, len(order))
	for _, key := range order {
		result = append(result, *tables[key])
	}

	c.logger.Debug("discovered postgres schema",
		zap.String("database", database),
		zap.Int("tables", len(result)),
	)
	return result, nil
}

func (c *Catalog) discoverTables(ctx context.Context, database string) (map[string]*models.TableSchema, []string, error) {
	const query = `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(c.reltuples::bigint, 0) AS row_estimate
		FROM information_schema.tables t
		LEFT JOIN pg_class c ON c.relname = t.table_name
		LEFT JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = t.table_schema
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY t.table_schema, t.table_name
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: query tables: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}
	defer rows.Close()

	tables := make(map[string]*models.TableSchema)
	var order []string
	now := time.Now()

	for rows.Next() {
		var schemaName, tableName string
		var rowEstimate int64
		if err := rows.Scan(&schemaName, &tableName, &rowEstimate); err != nil {
			return nil, nil, fmt.Errorf("%w: scan table: %v", apperrors.ErrSchemaDiscoveryFailed, err)
		}
		key := tableKey(schemaName, tableName)
		tables[key] = &models.TableSchema{
			Database:          database,
			Table:             key,
			EstimatedRowCount: rowEstimate,
			DiscoveredAt:      now,
		}
		order = append(order, key)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: iterate tables: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}

	return tables, order, nil
}

func (c *Catalog) discoverColumns(ctx context.Context, tables map[string]*models.TableSchema) error {
	const query = `
		SELECT table_schema, table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY table_schema, table_name, ordinal_position
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: query columns: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, columnName, dataType string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType); err != nil {
			return fmt.Errorf("%w: scan column: %v", apperrors.ErrSchemaDiscoveryFailed, err)
		}
		table, ok := tables[tableKey(schemaName, tableName)]
		if !ok {
			continue // view or foreign table columns
		}
		table.Columns = append(table.Columns, models.ColumnInfo{
			Name:         columnName,
			NativeType:   dataType,
			IsSearchable: searchableTypes[strings.ToLower(dataType)],
		})
	}
	return rows.Err()
}

func (c *Catalog) discoverFullTextIndexes(ctx context.Context, tables map[string]*models.TableSchema) error {
	const query = `
		SELECT schemaname, tablename, indexname, indexdef
		FROM pg_indexes
		WHERE indexdef ILIKE '%to_tsvector%'
		  AND schemaname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schemaname, tablename, indexname
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: query full-text indexes: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var schemaName, tableName, indexName, indexDef string
		if err := rows.Scan(&schemaName, &tableName, &indexName, &indexDef); err != nil {
			return fmt.Errorf("%w: scan full-text index: %v", apperrors.ErrSchemaDiscoveryFailed, err)
		}
		table, ok := tables[tableKey(schemaName, tableName)]
		if !ok {
			continue
		}

		known := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			known = append(known, col.Name)
		}
		columns := parseIndexColumns(indexDef, known)
		if len(columns) == 0 {
			// tsvector over expressions we cannot map back to columns
			c.logger.Debug("skipping unparseable full-text index",
				zap.String("index", indexName),
				zap.String("table", tableKey(schemaName, tableName)),
			)
			continue
		}

		table.FullTextIndexes = append(table.FullTextIndexes, models.FullTextIndex{
			Name:    indexName,
			Columns: columns,
		})
		markFullTextIndexed(table, columns)
	}
	return rows.Err()
}

func markFullTextIndexed(table *models.TableSchema, columns []string) {
	indexed := make(map[string]bool, len(columns))
	for _, col := range columns {
		indexed[col] = true
	}
	for i := range table.Columns {
		if indexed[table.Columns[i].Name] {
			table.Columns[i].IsFullTextIndexed = true
		}
	}
}

// parseIndexColumns extracts the column names referenced by a tsvector index
// definition, in the order they appear. Only names present in known are
// accepted, so expression indexes over unknown functions yield nothing.
func parseIndexColumns(indexDef string, known []string) []string {
	lower := strings.ToLower(indexDef)

	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, col := range known {
		if pos := identifierIndex(lower, strings.ToLower(col)); pos >= 0 {
			hits = append(hits, hit{pos: pos, name: col})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	columns := make([]string, 0, len(hits))
	for _, h := range hits {
		columns = append(columns, h.name)
	}
	return columns
}

// identifierIndex finds name in s as a whole identifier, bare or quoted.
// Returns -1 if every occurrence is a substring of a longer identifier.
func identifierIndex(s, name string) int {
	for start := 0; ; {
		pos := strings.Index(s[start:], name)
		if pos < 0 {
			return -1
		}
		pos += start

		before := byte(' ')
		if pos > 0 {
			before = s[pos-1]
		}
		after := byte(' ')
		if end := pos + len(name); end < len(s) {
			after = s[end]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return pos
		}
		start = pos + len(name)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// compile-time interface check
var _ datasource.SchemaCatalog = (*Catalog)(nil)
