// Package repositories provides data access to the engine's metadata store.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/database"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// ConnectionRepository defines data access for the persistent tenant
// connection registry. Passwords are stored as encrypted TEXT; encryption
// and decryption are handled by the service layer.
type ConnectionRepository interface {
	// Create inserts a new tenant connection. Returns ErrConflict if the
	// name is already taken.
	Create(ctx context.Context, conn *models.TenantConnection, encryptedPassword string) error

	// GetByID retrieves a tenant connection and its encrypted password.
	GetByID(ctx context.Context, id uuid.UUID) (*models.TenantConnection, string, error)

	// List retrieves all tenant connections with their encrypted passwords.
	List(ctx context.Context) ([]*models.TenantConnection, []string, error)

	// Delete removes a tenant connection by ID. Deleting an absent id is
	// not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates a repository backed by the metadata store.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.TenantConnection, encryptedPassword string) error {
	now := time.Now()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	const query = `
		INSERT INTO tenant_connections
			(name, dialect, host, port, username, password_encrypted, database_name, tls_mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		conn.Name,
		conn.Dialect,
		conn.Host,
		conn.Port,
		conn.Username,
		encryptedPassword,
		conn.Database,
		conn.TLSMode,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Scan(&conn.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create tenant connection: %w", err)
	}

	return nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TenantConnection, string, error) {
	const query = `
		SELECT id, name, dialect, host, port, username, password_encrypted,
		       database_name, tls_mode, created_at, updated_at
		FROM tenant_connections
		WHERE id = $1`

	conn, encrypted, err := scanConnection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get tenant connection: %w", err)
	}

	return conn, encrypted, nil
}

func (r *connectionRepository) List(ctx context.Context) ([]*models.TenantConnection, []string, error) {
	const query = `
		SELECT id, name, dialect, host, port, username, password_encrypted,
		       database_name, tls_mode, created_at, updated_at
		FROM tenant_connections
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list tenant connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.TenantConnection
	var passwords []string
	for rows.Next() {
		conn, encrypted, err := scanConnection(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan tenant connection: %w", err)
		}
		conns = append(conns, conn)
		passwords = append(passwords, encrypted)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate tenant connections: %w", err)
	}

	return conns, passwords, nil
}

func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tenant_connections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant connection: %w", err)
	}
	return nil
}

func scanConnection(row pgx.Row) (*models.TenantConnection, string, error) {
	var conn models.TenantConnection
	var encrypted string
	err := row.Scan(
		&conn.ID,
		&conn.Name,
		&conn.Dialect,
		&conn.Host,
		&conn.Port,
		&conn.Username,
		&encrypted,
		&conn.Database,
		&conn.TLSMode,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, "", err
	}
	return &conn, encrypted, nil
}
