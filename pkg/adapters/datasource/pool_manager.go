package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/logging"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/retry"
)

const (
	DefaultMaxConnsPerTenant     = 5
	DefaultAcquireTimeoutSeconds = 60
	DefaultProbeTimeoutSeconds   = 10
)

// PoolManagerConfig holds configuration for the pool manager.
type PoolManagerConfig struct {
	MaxConnsPerTenant     int32
	AcquireTimeoutSeconds int
	ProbeTimeoutSeconds   int
}

// PoolManager owns the keyed registry of per-tenant connection pools. It is
// the only process-wide mutable resource: orchestrator and adapters borrow
// connectors through it and never mutate the registry themselves.
//
// Lookups by disjoint tenant ids proceed under a read lock without
// contention; add/remove for the same id are serialized by the write lock.
type PoolManager struct {
	mu     sync.RWMutex
	pools  map[uuid.UUID]*managedPool
	cfg    PoolManagerConfig
	closed bool
	logger *zap.Logger
}

type managedPool struct {
	connector PoolConnector
	addedAt   time.Time
}

// NewPoolManager creates a pool manager with the given configuration.
func NewPoolManager(cfg PoolManagerConfig, logger *zap.Logger) *PoolManager {
	if cfg.MaxConnsPerTenant <= 0 {
		cfg.MaxConnsPerTenant = DefaultMaxConnsPerTenant
	}
	if cfg.AcquireTimeoutSeconds <= 0 {
		cfg.AcquireTimeoutSeconds = DefaultAcquireTimeoutSeconds
	}
	if cfg.ProbeTimeoutSeconds <= 0 {
		cfg.ProbeTimeoutSeconds = DefaultProbeTimeoutSeconds
	}
	return &PoolManager{
		pools:  make(map[uuid.UUID]*managedPool),
		cfg:    cfg,
		logger: logger,
	}
}

// AddConnection dials a bounded pool for the tenant connection, probes it
// once, and registers it only if the probe succeeds. A second AddConnection
// for the same id replaces the previous pool (the old pool is closed after
// the swap). On probe failure no partial registration is left behind and
// apperrors.ErrConnectionUnreachable is returned.
func (m *PoolManager) AddConnection(ctx context.Context, conn models.TenantConnection) error {
	reg, ok := Registered(conn.Dialect)
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDialect, conn.Dialect)
	}

	connector, err := reg.PoolFactory(ctx, conn, PoolTuning{
		MaxConns:       m.cfg.MaxConnsPerTenant,
		AcquireTimeout: m.cfg.AcquireTimeoutSeconds,
	})
	if err != nil {
		m.logger.Warn("tenant pool creation failed",
			zap.String("tenant_id", conn.ID.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return fmt.Errorf("%w: %s", apperrors.ErrConnectionUnreachable, logging.SanitizeError(err))
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.ProbeTimeoutSeconds)*time.Second)
	defer cancel()

	if err := retry.Do(probeCtx, retry.DefaultConfig(), func() error {
		return connector.Ping(probeCtx)
	}); err != nil {
		_ = connector.Close()
		m.logger.Warn("tenant liveness probe failed",
			zap.String("tenant_id", conn.ID.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return fmt.Errorf("%w: %s", apperrors.ErrConnectionUnreachable, logging.SanitizeError(err))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = connector.Close()
		return fmt.Errorf("pool manager is closed")
	}
	old := m.pools[conn.ID]
	m.pools[conn.ID] = &managedPool{connector: connector, addedAt: time.Now()}
	m.mu.Unlock()

	if old != nil {
		// Last writer wins; the replaced pool drains outside the lock.
		_ = old.connector.Close()
	}

	m.logger.Info("registered tenant pool",
		zap.String("tenant_id", conn.ID.String()),
		zap.String("dialect", string(conn.Dialect)),
	)
	return nil
}

// RemoveConnection drains and closes the pool for id.
// Removing an unregistered id is a no-op, not an error.
func (m *PoolManager) RemoveConnection(id uuid.UUID) {
	m.mu.Lock()
	managed, exists := m.pools[id]
	if exists {
		delete(m.pools, id)
	}
	m.mu.Unlock()

	if exists {
		_ = managed.connector.Close()
		m.logger.Info("removed tenant pool", zap.String("tenant_id", id.String()))
	}
}

// Borrow returns the registered connector for id. Callers never close the
// returned connector; its lifecycle belongs to the manager.
func (m *PoolManager) Borrow(id uuid.UUID) (PoolConnector, error) {
	m.mu.RLock()
	managed, exists := m.pools[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: tenant %s has no registered pool", apperrors.ErrNotFound, id)
	}
	return managed.connector, nil
}

// TestConnection borrows the pool for id and pings it. Ordinary
// connectivity failure returns false, never an error.
func (m *PoolManager) TestConnection(ctx context.Context, id uuid.UUID) bool {
	connector, err := m.Borrow(id)
	if err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.ProbeTimeoutSeconds)*time.Second)
	defer cancel()

	if err := connector.Ping(probeCtx); err != nil {
		m.logger.Warn("tenant connection test failed",
			zap.String("tenant_id", id.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return false
	}
	return true
}

// Statuses runs TestConnection over every registered id concurrently and
// returns a map of id to reachability.
func (m *PoolManager) Statuses(ctx context.Context) map[uuid.UUID]bool {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	statuses := make(map[uuid.UUID]bool, len(ids))
	results := make([]bool, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.TestConnection(ctx, id)
		}()
	}
	wg.Wait()

	for i, id := range ids {
		statuses[id] = results[i]
	}
	return statuses
}

// RegisteredIDs returns the ids of all registered pools.
func (m *PoolManager) RegisteredIDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	return ids
}

// Catalog returns a schema catalog borrowing the tenant's registered pool.
func (m *PoolManager) Catalog(id uuid.UUID, logger *zap.Logger) (SchemaCatalog, error) {
	connector, err := m.Borrow(id)
	if err != nil {
		return nil, err
	}
	reg, ok := Registered(connector.Dialect())
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDialect, connector.Dialect())
	}
	return reg.CatalogFactory(connector, logger)
}

// Searcher returns a full-text searcher borrowing the tenant's registered pool.
func (m *PoolManager) Searcher(id uuid.UUID, logger *zap.Logger) (FullTextSearcher, error) {
	connector, err := m.Borrow(id)
	if err != nil {
		return nil, err
	}
	reg, ok := Registered(connector.Dialect())
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDialect, connector.Dialect())
	}
	return reg.SearcherFactory(connector, logger)
}

// CloseAll drains every pool. Used only at process shutdown; idempotent.
func (m *PoolManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for id, managed := range m.pools {
		_ = managed.connector.Close()
		delete(m.pools, id)
	}
	m.logger.Info("pool manager closed")
}
