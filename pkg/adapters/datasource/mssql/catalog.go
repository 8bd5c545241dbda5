package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// searchableTypes are the SQL Server column types eligible for full-text
// matching.
var searchableTypes = map[string]bool{
	"char":     true,
	"nchar":    true,
	"varchar":  true,
	"nvarchar": true,
	"text":     true,
	"ntext":    true,
	"sysname":  true,
}

// Catalog discovers tables, columns and full-text indexes for one tenant
// SQL Server database. It borrows the pool and never closes it.
type Catalog struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCatalog creates a SQL Server schema catalog over a borrowed pool.
func NewCatalog(db *sql.DB, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{db: db, logger: logger}
}

// tableKey names a table the way the rest of the engine refers to it:
// bare for dbo, schema-qualified otherwise.
func tableKey(schemaName, tableName string) string {
	if schemaName == "dbo" || schemaName == "" {
		return tableName
	}
	return schemaName + "." + tableName
}

// Discover introspects the tenant database through the sys catalog views.
// Any introspection failure aborts the whole discovery.
func (c *Catalog) Discover(ctx context.Context) ([]models.TableSchema, error) {
	var database string
	if err := c.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&database); err != nil {
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

	c.logger.Debug("discovered sqlserver schema",
		zap.String("database", database),
		zap.Int("tables", len(result)),
	)
	return result, nil
}

func (c *Catalog) discoverTables(ctx context.Context, database string) (map[string]*models.TableSchema, []string, error) {
	const query = `
		SELECT s.name, t.name, COALESCE(SUM(p.rows), 0) AS row_estimate
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		LEFT JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		WHERE t.is_ms_shipped = 0
		GROUP BY s.name, t.name
		ORDER BY s.name, t.name`

	rows, err := c.db.QueryContext(ctx, query)
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
		SELECT s.name, t.name, c.name, ty.name
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		WHERE t.is_ms_shipped = 0
		ORDER BY s.name, t.name, c.column_id`

	rows, err := c.db.QueryContext(ctx, query)
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
			continue
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
		SELECT s.name, t.name, i.name, c.name
		FROM sys.fulltext_indexes fi
		JOIN sys.tables t ON t.object_id = fi.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.indexes i ON i.object_id = fi.object_id AND i.index_id = fi.unique_index_id
		JOIN sys.fulltext_index_columns fic ON fic.object_id = fi.object_id
		JOIN sys.columns c ON c.object_id = fic.object_id AND c.column_id = fic.column_id
		ORDER BY s.name, t.name, fic.column_id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: query full-text indexes: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}
	defer rows.Close()

	// SQL Server allows one full-text index per table; rows arrive one per
	// column so they are grouped back by table here.
	indexColumns := make(map[string][]string)
	indexNames := make(map[string]string)
	var keys []string

	for rows.Next() {
		var schemaName, tableName, indexName, columnName string
		if err := rows.Scan(&schemaName, &tableName, &indexName, &columnName); err != nil {
			return fmt.Errorf("%w: scan full-text index: %v", apperrors.ErrSchemaDiscoveryFailed, err)
		}
		key := tableKey(schemaName, tableName)
		if _, seen := indexColumns[key]; !seen {
			keys = append(keys, key)
		}
		indexColumns[key] = append(indexColumns[key], columnName)
		indexNames[key] = indexName
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate full-text indexes: %v", apperrors.ErrSchemaDiscoveryFailed, err)
	}

	for _, key := range keys {
		table, ok := tables[key]
		if !ok {
			continue
		}
		columns := indexColumns[key]
		table.FullTextIndexes = append(table.FullTextIndexes, models.FullTextIndex{
			Name:    indexNames[key],
			Columns: columns,
		})

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
	return nil
}

var _ datasource.SchemaCatalog = (*Catalog)(nil)
