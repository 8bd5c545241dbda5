// Package analytics records search activity for popularity rankings and
// operational visibility. Recording is fire-and-forget: a sink failure must
// never surface into a search response.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/cache"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// recordTimeout bounds each asynchronous write so leaked goroutines cannot
// pile up behind a stuck Redis.
const recordTimeout = 5 * time.Second

// AnalyticsSink receives one event per completed search.
type AnalyticsSink interface {
	RecordSearch(event models.SearchEvent)
}

// CacheSink records events into the cache gateway's popularity ranking and
// mirrors them into the structured log.
type CacheSink struct {
	gateway *cache.Gateway
	logger  *zap.Logger
}

// NewCacheSink creates a sink over the shared cache gateway.
func NewCacheSink(gateway *cache.Gateway, logger *zap.Logger) *CacheSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheSink{gateway: gateway, logger: logger.Named("analytics")}
}

// RecordSearch logs the event and bumps the query's popularity score in the
// background. Never blocks the caller.
func (s *CacheSink) RecordSearch(event models.SearchEvent) {
	s.logger.Info("search completed",
		zap.String("requester_id", event.RequesterID),
		zap.String("query", event.Query),
		zap.Strings("tenant_ids", event.TenantIDs),
		zap.Int("result_count", event.ResultCount),
		zap.Int64("execution_time_ms", event.ExecutionTimeMs),
		zap.String("mode", string(event.Mode)),
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		s.gateway.RecordQuery(ctx, event.Query, event.TenantIDs...)
	}()
}

// NopSink discards events. Used in tests and when analytics is disabled.
type NopSink struct{}

func (NopSink) RecordSearch(models.SearchEvent) {}

var (
	_ AnalyticsSink = (*CacheSink)(nil)
	_ AnalyticsSink = NopSink{}
)
