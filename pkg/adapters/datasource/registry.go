package datasource

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// PoolTuning carries the pool bounds applied to every tenant pool.
type PoolTuning struct {
	MaxConns       int32
	AcquireTimeout int // seconds
}

// AdapterRegistration contains factories for one database dialect.
// PoolFactory dials the tenant database; the catalog and searcher factories
// borrow an already-registered pool and never own it.
type AdapterRegistration struct {
	Dialect     models.Dialect
	DisplayName string

	PoolFactory     func(ctx context.Context, conn models.TenantConnection, tuning PoolTuning) (PoolConnector, error)
	CatalogFactory  func(connector PoolConnector, logger *zap.Logger) (SchemaCatalog, error)
	SearcherFactory func(connector PoolConnector, logger *zap.Logger) (FullTextSearcher, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.Dialect]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Dialect] = reg
}

// Registered returns the registration for a dialect and whether it exists.
func Registered(dialect models.Dialect) (AdapterRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[dialect]
	return reg, ok
}

// RegisteredDialects returns all available dialects.
func RegisteredDialects() []models.Dialect {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]models.Dialect, 0, len(registry))
	for d := range registry {
		result = append(result, d)
	}
	return result
}
