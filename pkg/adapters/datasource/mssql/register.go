package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Dialect:     models.DialectSQLServer,
		DisplayName: "SQL Server",
		PoolFactory: func(ctx context.Context, conn models.TenantConnection, tuning datasource.PoolTuning) (datasource.PoolConnector, error) {
			db, err := sql.Open("sqlserver", buildConnectionString(conn))
			if err != nil {
				return nil, fmt.Errorf("open sqlserver connection: %w", err)
			}
			if tuning.MaxConns > 0 {
				db.SetMaxOpenConns(int(tuning.MaxConns))
				db.SetMaxIdleConns(int(tuning.MaxConns))
			}
			if tuning.AcquireTimeout > 0 {
				db.SetConnMaxIdleTime(time.Duration(tuning.AcquireTimeout) * time.Second)
			}
			return datasource.NewSQLServerPool(db), nil
		},
		CatalogFactory: func(connector datasource.PoolConnector, logger *zap.Logger) (datasource.SchemaCatalog, error) {
			db, err := datasource.UnwrapSQLServer(connector)
			if err != nil {
				return nil, err
			}
			return NewCatalog(db, logger), nil
		},
		SearcherFactory: func(connector datasource.PoolConnector, logger *zap.Logger) (datasource.FullTextSearcher, error) {
			db, err := datasource.UnwrapSQLServer(connector)
			if err != nil {
				return nil, err
			}
			return NewSearcher(db, logger), nil
		},
	})
}
