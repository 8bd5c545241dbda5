package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// PostgresPool wraps *pgxpool.Pool to implement PoolConnector.
type PostgresPool struct {
	pool *pgxpool.Pool
}

// NewPostgresPool wraps an existing pgx pool.
func NewPostgresPool(pool *pgxpool.Pool) *PostgresPool {
	return &PostgresPool{pool: pool}
}

func (p *PostgresPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresPool) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresPool) Dialect() models.Dialect {
	return models.DialectPostgres
}

// Pool returns the underlying *pgxpool.Pool.
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}

// SQLServerPool wraps *sql.DB to implement PoolConnector.
type SQLServerPool struct {
	db *sql.DB
}

// NewSQLServerPool wraps an existing SQL Server connection pool.
func NewSQLServerPool(db *sql.DB) *SQLServerPool {
	return &SQLServerPool{db: db}
}

func (p *SQLServerPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *SQLServerPool) Close() error {
	return p.db.Close()
}

func (p *SQLServerPool) Dialect() models.Dialect {
	return models.DialectSQLServer
}

// DB returns the underlying *sql.DB.
func (p *SQLServerPool) DB() *sql.DB {
	return p.db
}

// UnwrapPostgres extracts the pgx pool from a connector.
func UnwrapPostgres(connector PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := connector.(*PostgresPool)
	if !ok {
		return nil, fmt.Errorf("connector is not a PostgreSQL pool (dialect %s)", connector.Dialect())
	}
	return wrapper.Pool(), nil
}

// UnwrapSQLServer extracts the *sql.DB from a connector.
func UnwrapSQLServer(connector PoolConnector) (*sql.DB, error) {
	wrapper, ok := connector.(*SQLServerPool)
	if !ok {
		return nil, fmt.Errorf("connector is not a SQL Server pool (dialect %s)", connector.Dialect())
	}
	return wrapper.DB(), nil
}
