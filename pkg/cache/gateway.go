// Package cache fronts Redis for the search engine. Every operation fails
// open: when Redis is down, reads behave as misses, writes become no-ops,
// and rate limiting admits traffic. Search must keep answering without it.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// probeTimeout bounds each availability ping.
	probeTimeout = 2 * time.Second

	// popularityKey is the sorted set ranking normalized query text.
	popularityKey = "query_popularity"

	// recentQueriesKeyPrefix namespaces the per-tenant recent query sets.
	recentQueriesKeyPrefix = "recent_queries:"
)

// QueryCount is one entry of the query popularity ranking.
type QueryCount struct {
	Query string  `json:"query"`
	Count float64 `json:"count"`
}

// Gateway wraps a Redis client with availability tracking. A background
// probe flips the availability flag so callers never block on a dead Redis.
type Gateway struct {
	client    redis.UniversalClient
	available atomic.Bool
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewGateway creates a gateway over an existing Redis client and starts the
// availability probe. probeInterval <= 0 disables the background probe; the
// flag is still set from an initial ping.
func NewGateway(client redis.UniversalClient, probeInterval time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		client: client,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	g.probe()

	if probeInterval > 0 {
		go g.probeLoop(probeInterval)
	} else {
		close(g.done)
	}
	return g
}

func (g *Gateway) probeLoop(interval time.Duration) {
	defer close(g.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.probe()
		case <-g.stop:
			return
		}
	}
}

func (g *Gateway) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	err := g.client.Ping(ctx).Err()
	was := g.available.Swap(err == nil)
	if err != nil && was {
		g.logger.Warn("cache became unavailable", zap.Error(err))
	} else if err == nil && !was {
		g.logger.Info("cache available")
	}
}

// Available reports the last probed availability.
func (g *Gateway) Available() bool {
	return g.available.Load()
}

// Get unmarshals the cached JSON value at key into dest. Returns false on
// miss, on unavailable cache, or on any Redis error.
func (g *Gateway) Get(ctx context.Context, key string, dest any) bool {
	if !g.Available() {
		return false
	}

	raw, err := g.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			g.logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		g.logger.Warn("cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		g.client.Del(ctx, key)
		return false
	}
	return true
}

// Set stores value as JSON at key with the given TTL. Best effort.
func (g *Gateway) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !g.Available() {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := g.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		g.logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Del removes keys. Best effort.
func (g *Gateway) Del(ctx context.Context, keys ...string) {
	if !g.Available() || len(keys) == 0 {
		return
	}
	if err := g.client.Del(ctx, keys...).Err(); err != nil {
		g.logger.Debug("cache del failed", zap.Error(err))
	}
}

// Increment atomically increments key and returns the new value, or 0 when
// the cache is unavailable.
func (g *Gateway) Increment(ctx context.Context, key string) int64 {
	if !g.Available() {
		return 0
	}
	v, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		g.logger.Debug("cache incr failed", zap.String("key", key), zap.Error(err))
		return 0
	}
	return v
}

// RateLimit applies a fixed-window counter at key. The first increment of a
// window starts its expiry; the call reports whether the request is within
// limit. Unavailable or failing Redis admits the request.
func (g *Gateway) RateLimit(ctx context.Context, key string, limit int, window time.Duration) bool {
	if !g.Available() {
		return true
	}

	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		g.logger.Debug("rate limit incr failed", zap.String("key", key), zap.Error(err))
		return true
	}
	if count == 1 {
		if err := g.client.Expire(ctx, key, window).Err(); err != nil {
			g.logger.Debug("rate limit expire failed", zap.String("key", key), zap.Error(err))
		}
	}
	return count <= int64(limit)
}

// RecordQuery bumps the normalized query's popularity score and stamps it
// into each tenant's recent-query set. Best effort.
func (g *Gateway) RecordQuery(ctx context.Context, query string, tenantIDs ...string) {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if !g.Available() || normalized == "" {
		return
	}
	if err := g.client.ZIncrBy(ctx, popularityKey, 1, normalized).Err(); err != nil {
		g.logger.Debug("record query failed", zap.Error(err))
		return
	}
	now := float64(time.Now().Unix())
	for _, tenant := range tenantIDs {
		key := recentQueriesKeyPrefix + tenant
		if err := g.client.ZAdd(ctx, key, redis.Z{Score: now, Member: normalized}).Err(); err != nil {
			g.logger.Debug("record recent query failed", zap.Error(err))
			return
		}
	}
}

// RecentQueries returns up to n of a tenant's most recently recorded
// queries, newest first. Returns nil when the cache is unavailable.
func (g *Gateway) RecentQueries(ctx context.Context, tenantID string, n int) []string {
	if !g.Available() || n <= 0 {
		return nil
	}
	members, err := g.client.ZRevRange(ctx, recentQueriesKeyPrefix+tenantID, 0, int64(n-1)).Result()
	if err != nil {
		g.logger.Debug("recent queries failed", zap.Error(err))
		return nil
	}
	return members
}

// TopQueries returns the n most popular recorded queries, most popular
// first. Returns nil when the cache is unavailable.
func (g *Gateway) TopQueries(ctx context.Context, n int) []QueryCount {
	if !g.Available() || n <= 0 {
		return nil
	}

	entries, err := g.client.ZRevRangeWithScores(ctx, popularityKey, 0, int64(n-1)).Result()
	if err != nil {
		g.logger.Debug("top queries failed", zap.Error(err))
		return nil
	}

	result := make([]QueryCount, 0, len(entries))
	for _, e := range entries {
		query, ok := e.Member.(string)
		if !ok {
			continue
		}
		result = append(result, QueryCount{Query: query, Count: e.Score})
	}
	return result
}

// Close stops the probe loop and closes the underlying client.
func (g *Gateway) Close() error {
	g.stopOnce.Do(func() {
		close(g.stop)
	})
	<-g.done
	return g.client.Close()
}
