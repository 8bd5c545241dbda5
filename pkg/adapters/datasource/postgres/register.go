package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Dialect:     models.DialectPostgres,
		DisplayName: "PostgreSQL",
		PoolFactory: func(ctx context.Context, conn models.TenantConnection, tuning datasource.PoolTuning) (datasource.PoolConnector, error) {
			poolCfg, err := pgxpool.ParseConfig(buildConnectionString(conn))
			if err != nil {
				return nil, fmt.Errorf("parse postgres config: %w", err)
			}
			if tuning.MaxConns > 0 {
				poolCfg.MaxConns = tuning.MaxConns
			}
			if tuning.AcquireTimeout > 0 {
				poolCfg.ConnConfig.ConnectTimeout = time.Duration(tuning.AcquireTimeout) * time.Second
			}

			pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				return nil, fmt.Errorf("connect to postgres: %w", err)
			}
			return datasource.NewPostgresPool(pool), nil
		},
		CatalogFactory: func(connector datasource.PoolConnector, logger *zap.Logger) (datasource.SchemaCatalog, error) {
			pool, err := datasource.UnwrapPostgres(connector)
			if err != nil {
				return nil, err
			}
			return NewCatalog(pool, logger), nil
		},
		SearcherFactory: func(connector datasource.PoolConnector, logger *zap.Logger) (datasource.FullTextSearcher, error) {
			pool, err := datasource.UnwrapPostgres(connector)
			if err != nil {
				return nil, err
			}
			return NewSearcher(pool, logger), nil
		},
	})
}
