// Package services contains the business logic between the HTTP surface and
// the datasource, cache and metadata layers.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/crypto"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/repositories"
)

// ConnectionService manages the lifecycle of tenant database connections:
// persistence with encrypted credentials, live pool registration, and
// schema access. Plaintext passwords exist only in flight; the repository
// only ever sees ciphertext.
type ConnectionService struct {
	repo   repositories.ConnectionRepository
	cipher *crypto.CredentialCipher
	pools  *datasource.PoolManager
	logger *zap.Logger
}

// NewConnectionService wires the connection lifecycle.
func NewConnectionService(
	repo repositories.ConnectionRepository,
	cipher *crypto.CredentialCipher,
	pools *datasource.PoolManager,
	logger *zap.Logger,
) *ConnectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionService{
		repo:   repo,
		cipher: cipher,
		pools:  pools,
		logger: logger,
	}
}

// AddConnection persists the tenant connection and registers its pool. The
// pool is probed before the registration counts; if the tenant database is
// unreachable the persisted record is rolled back so a failed add leaves no
// trace.
func (s *ConnectionService) AddConnection(ctx context.Context, conn *models.TenantConnection) error {
	if _, ok := datasource.Registered(conn.Dialect); !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDialect, conn.Dialect)
	}

	encrypted, err := s.cipher.Encrypt(conn.Password)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	if err := s.repo.Create(ctx, conn, encrypted); err != nil {
		return err
	}

	if err := s.pools.AddConnection(ctx, *conn); err != nil {
		if delErr := s.repo.Delete(ctx, conn.ID); delErr != nil {
			s.logger.Error("rollback of unreachable connection failed",
				zap.String("tenant_id", conn.ID.String()),
				zap.Error(delErr),
			)
		}
		return err
	}

	s.logger.Info("tenant connection added",
		zap.String("tenant_id", conn.ID.String()),
		zap.String("name", conn.Name),
		zap.String("dialect", string(conn.Dialect)),
	)
	return nil
}

// RemoveConnection drains the tenant's pool and deletes the record.
// Removing an unknown id is a no-op.
func (s *ConnectionService) RemoveConnection(ctx context.Context, id uuid.UUID) error {
	s.pools.RemoveConnection(id)
	return s.repo.Delete(ctx, id)
}

// GetConnection returns the stored connection without its password.
func (s *ConnectionService) GetConnection(ctx context.Context, id uuid.UUID) (*models.TenantConnection, error) {
	conn, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	conn.Password = ""
	return conn, nil
}

// ListConnections returns all stored connections without passwords.
func (s *ConnectionService) ListConnections(ctx context.Context) ([]*models.TenantConnection, error) {
	conns, _, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, conn := range conns {
		conn.Password = ""
	}
	return conns, nil
}

// RestoreAll re-registers pools for every persisted connection. Called at
// boot. Unreachable tenants are logged and skipped; their records stay so a
// later restart can pick them up again. Returns the number restored.
func (s *ConnectionService) RestoreAll(ctx context.Context) int {
	conns, encrypted, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("listing persisted connections failed", zap.Error(err))
		return 0
	}

	restored := 0
	for i, conn := range conns {
		password, err := s.cipher.Decrypt(encrypted[i])
		if err != nil {
			s.logger.Error("credential decryption failed, skipping tenant",
				zap.String("tenant_id", conn.ID.String()),
				zap.Error(err),
			)
			continue
		}
		conn.Password = password

		if err := s.pools.AddConnection(ctx, *conn); err != nil {
			s.logger.Warn("tenant pool restore failed",
				zap.String("tenant_id", conn.ID.String()),
				zap.Error(err),
			)
			continue
		}
		restored++
	}

	s.logger.Info("tenant pools restored",
		zap.Int("restored", restored),
		zap.Int("total", len(conns)),
	)
	return restored
}

// TestConnection reports whether the tenant's registered pool is reachable.
func (s *ConnectionService) TestConnection(ctx context.Context, id uuid.UUID) bool {
	return s.pools.TestConnection(ctx, id)
}

// Statuses reports reachability for every registered tenant pool.
func (s *ConnectionService) Statuses(ctx context.Context) map[uuid.UUID]bool {
	return s.pools.Statuses(ctx)
}

// DiscoverSchema introspects the tenant database on demand.
func (s *ConnectionService) DiscoverSchema(ctx context.Context, id uuid.UUID) ([]models.TableSchema, error) {
	catalog, err := s.pools.Catalog(id, s.logger)
	if err != nil {
		return nil, err
	}
	return catalog.Discover(ctx)
}

// AnalyzeQuery runs the tenant's native planner over a read-only statement.
func (s *ConnectionService) AnalyzeQuery(ctx context.Context, id uuid.UUID, rawQuery string) ([]map[string]any, error) {
	searcher, err := s.pools.Searcher(id, s.logger)
	if err != nil {
		return nil, err
	}
	return searcher.AnalyzeQueryPerformance(ctx, rawQuery)
}
