package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/advisor"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/cache"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/config"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// mockSearcher is a configurable per-tenant searcher. Calls are tracked
// under a mutex because the orchestrator fans out concurrently.
type mockSearcher struct {
	mu          sync.Mutex
	searchCalls int
	lastQuery   string
	lastOpts    datasource.SearchOptions

	rows        []datasource.MatchedRow
	searchErr   error
	suggestions []string
	suggestErr  error
}

func (m *mockSearcher) ExecuteFullTextSearch(_ context.Context, query string, opts datasource.SearchOptions) ([]datasource.MatchedRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	m.lastQuery = query
	m.lastOpts = opts
	return m.rows, m.searchErr
}

func (m *mockSearcher) GetSearchSuggestions(_ context.Context, _ string, _ []string, limit int) ([]string, error) {
	if m.suggestErr != nil {
		return nil, m.suggestErr
	}
	if limit < len(m.suggestions) {
		return m.suggestions[:limit], nil
	}
	return m.suggestions, nil
}

func (m *mockSearcher) AnalyzeQueryPerformance(context.Context, string) ([]map[string]any, error) {
	return nil, nil
}

func (m *mockSearcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

func (m *mockSearcher) query() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

func (m *mockSearcher) opts() datasource.SearchOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

type mockProvider struct {
	searchers map[uuid.UUID]*mockSearcher
}

func (p *mockProvider) Searcher(id uuid.UUID, _ *zap.Logger) (datasource.FullTextSearcher, error) {
	s, ok := p.searchers[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func row(table string, score float64, title string) datasource.MatchedRow {
	return datasource.MatchedRow{
		Table:          table,
		MatchedColumns: []string{"title"},
		Data:           map[string]any{"title": title},
		Relevance:      score,
	}
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		CacheTTLSeconds:        300,
		RateLimitPerWindow:     60,
		RateLimitWindowSeconds: 60,
		MaxSuggestions:         10,
	}
}

func newOrchestrator(provider SearcherProvider, gateway *cache.Gateway, adv advisor.AdvisorPort) *Orchestrator {
	return NewOrchestrator(provider, gateway, adv, nil, testConfig(), zap.NewNop())
}

func newTestGateway(t *testing.T) *cache.Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := cache.NewGateway(client, 0, zap.NewNop())
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestSearchMergesAndRanksAcrossTenants(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenantA: {rows: []datasource.MatchedRow{
			row("articles", 0.9, "postgres tuning guide"),
			row("articles", 0.3, "postgres backups"),
		}},
		tenantB: {rows: []datasource.MatchedRow{
			row("notes", 0.7, "tuning checklist"),
		}},
	}}

	o := newOrchestrator(provider, nil, nil)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "tuning",
		TenantIDs: []uuid.UUID{tenantA, tenantB},
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, 0.9, resp.Results[0].RelevanceScore)
	assert.Equal(t, 0.7, resp.Results[1].RelevanceScore)
	assert.Equal(t, 0.3, resp.Results[2].RelevanceScore)

	assert.Equal(t, tenantA.String(), resp.Results[0].TenantID)
	assert.Equal(t, tenantB.String(), resp.Results[1].TenantID)
	assert.Equal(t, "articles", resp.Results[0].Table)
	assert.NotEmpty(t, resp.Results[0].Snippet)
	assert.Equal(t, 1, resp.Page)
}

func TestSearchStableTieBreak(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenantA: {rows: []datasource.MatchedRow{row("articles", 0.5, "first")}},
		tenantB: {rows: []datasource.MatchedRow{row("articles", 0.5, "second")}},
	}}

	o := newOrchestrator(provider, nil, nil)
	req := models.SearchRequest{Query: "x", TenantIDs: []uuid.UUID{tenantA, tenantB}}

	first, err := o.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := o.Search(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, first.Results, 2)
	assert.Equal(t, first.Results[0].ID, second.Results[0].ID)
	assert.Equal(t, first.Results[1].ID, second.Results[1].ID)
}

func TestSearchPartialFailureTolerated(t *testing.T) {
	healthy := uuid.New()
	broken := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		healthy: {rows: []datasource.MatchedRow{row("articles", 0.8, "hit")}},
		broken:  {searchErr: errors.New("connection reset")},
	}}

	o := newOrchestrator(provider, nil, nil)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "hit",
		TenantIDs: []uuid.UUID{healthy, broken},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, healthy.String(), resp.Results[0].TenantID)
}

func TestSearchAllTenantsFail(t *testing.T) {
	brokenA := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		brokenA: {searchErr: errors.New("connection reset")},
	}}

	o := newOrchestrator(provider, nil, nil)
	// One searcher errors, the other tenant has no pool at all.
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{brokenA, uuid.New()},
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, apperrors.ErrSearchFailed)
	assert.Contains(t, err.Error(), "all 2 tenants failed")
	// The first tenant's error is the reported cause.
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSearchEmptyQueryDispatchesNothing(t *testing.T) {
	tenant := uuid.New()
	searcher := &mockSearcher{rows: []datasource.MatchedRow{row("articles", 1, "x")}}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{tenant: searcher}}

	o := newOrchestrator(provider, nil, nil)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "   \t  ",
		TenantIDs: []uuid.UUID{tenant},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.TotalCount)
	assert.Equal(t, 0, searcher.calls())
}

func TestSearchGlobalPagination(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenantA: {rows: []datasource.MatchedRow{
			row("articles", 0.9, "a"),
			row("articles", 0.5, "b"),
		}},
		tenantB: {rows: []datasource.MatchedRow{
			row("notes", 0.7, "c"),
			row("notes", 0.2, "d"),
		}},
	}}

	o := newOrchestrator(provider, nil, nil)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{tenantA, tenantB},
		Limit:     2,
		Offset:    2,
	})
	require.NoError(t, err)

	// Page two of the globally ranked list: 0.9, 0.7 | 0.5, 0.2.
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 0.5, resp.Results[0].RelevanceScore)
	assert.Equal(t, 0.2, resp.Results[1].RelevanceScore)
	assert.Equal(t, 4, resp.TotalCount)
	assert.Equal(t, 2, resp.Page)

	// Every tenant fetched the full window from position zero.
	opts := provider.searchers[tenantA].opts()
	assert.Equal(t, 4, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

func TestSearchDeduplicatesTenantIDs(t *testing.T) {
	tenant := uuid.New()
	searcher := &mockSearcher{rows: []datasource.MatchedRow{row("articles", 0.9, "x")}}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{tenant: searcher}}

	o := newOrchestrator(provider, nil, nil)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{tenant, tenant, tenant},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 1, searcher.calls())
}

func TestSearchCacheMemoization(t *testing.T) {
	tenant := uuid.New()
	searcher := &mockSearcher{rows: []datasource.MatchedRow{row("articles", 0.9, "cached hit")}}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{tenant: searcher}}

	o := newOrchestrator(provider, newTestGateway(t), nil)
	req := models.SearchRequest{Query: "cached", TenantIDs: []uuid.UUID{tenant}}

	first, err := o.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, searcher.calls())

	second, err := o.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, searcher.calls(), "second identical search must be served from cache")
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, first.TotalCount, second.TotalCount)

	// A different offset is a different cache entry.
	req.Offset = 10
	_, err = o.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, searcher.calls())
}

func TestSearchAnalyticsRequestsBypassCache(t *testing.T) {
	tenant := uuid.New()
	searcher := &mockSearcher{rows: []datasource.MatchedRow{row("articles", 0.9, "fresh hit")}}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{tenant: searcher}}

	o := newOrchestrator(provider, newTestGateway(t), nil)
	req := models.SearchRequest{
		Query:            "fresh",
		TenantIDs:        []uuid.UUID{tenant},
		IncludeAnalytics: true,
	}

	_, err := o.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, searcher.calls())

	// Analytics searches are neither stored nor served from cache, so an
	// identical repeat reaches the tenant again.
	_, err = o.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, searcher.calls())

	// And the analytics run must not have seeded an entry a plain search
	// could pick up.
	req.IncludeAnalytics = false
	_, err = o.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, searcher.calls())
}

func TestSearchSemanticRewrite(t *testing.T) {
	tenant := uuid.New()
	searcher := &mockSearcher{}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{tenant: searcher}}

	adv := advisor.NewMockAdvisor()
	adv.RewriteQueryFunc = func(_ context.Context, query string) (string, error) {
		return "postgres performance", nil
	}

	o := newOrchestrator(provider, nil, adv)
	_, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "how do I make postgres faster",
		TenantIDs: []uuid.UUID{tenant},
		Mode:      models.SearchModeSemantic,
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres performance", searcher.query())
	assert.Equal(t, 1, adv.RewriteQueryCalls)
}

func TestSearchSemanticRewriteFallsBack(t *testing.T) {
	tenant := uuid.New()
	searcher := &mockSearcher{}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{tenant: searcher}}

	adv := advisor.NewMockAdvisor()
	adv.RewriteQueryFunc = func(context.Context, string) (string, error) {
		return "", errors.New("model timeout")
	}

	o := newOrchestrator(provider, nil, adv)
	_, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "original words",
		TenantIDs: []uuid.UUID{tenant},
		Mode:      models.SearchModeSemantic,
	})
	require.NoError(t, err)
	assert.Equal(t, "original words", searcher.query())
}

func TestSearchEnrichment(t *testing.T) {
	tenant := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenant: {rows: []datasource.MatchedRow{row("articles", 0.9, "x")}},
	}}

	adv := advisor.NewMockAdvisor()
	adv.CategorizeResultsFunc = func(_ context.Context, _ string, results []models.SearchResult) ([]models.Category, error) {
		return []models.Category{{Name: "engineering", Count: len(results), Confidence: 0.9}}, nil
	}

	o := newOrchestrator(provider, nil, adv)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{tenant},
	})
	require.NoError(t, err)
	require.Len(t, resp.Categories, 1)
	assert.Equal(t, "engineering", resp.Categories[0].Name)
	assert.Equal(t, 1, adv.CategorizeResultsCalls)
}

func TestSearchEnrichmentSkippedWhenAdvisorDown(t *testing.T) {
	tenant := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenant: {rows: []datasource.MatchedRow{row("articles", 0.9, "x")}},
	}}

	o := newOrchestrator(provider, nil, advisor.Disabled{})
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{tenant},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Categories)
	assert.Empty(t, resp.QueryOptimization)
}

func TestSearchEnrichmentFailureLeavesResponseIntact(t *testing.T) {
	tenant := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenant: {rows: []datasource.MatchedRow{row("articles", 0.9, "x")}},
	}}

	adv := advisor.NewMockAdvisor()
	adv.CategorizeResultsFunc = func(context.Context, string, []models.SearchResult) ([]models.Category, error) {
		return nil, errors.New("model unavailable")
	}

	o := newOrchestrator(provider, nil, adv)
	resp, err := o.Search(context.Background(), models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{tenant},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Empty(t, resp.Categories)
}

func TestGetSearchSuggestionsMergesSources(t *testing.T) {
	tenant := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenant: {suggestions: []string{"database tuning", "database design"}},
	}}

	gateway := newTestGateway(t)
	ctx := context.Background()
	gateway.RecordQuery(ctx, "database tuning") // duplicate of an advisor value
	gateway.RecordQuery(ctx, "database tuning")
	gateway.RecordQuery(ctx, "database migrations")
	gateway.RecordQuery(ctx, "database indexes", tenant.String())
	gateway.RecordQuery(ctx, "unrelated thing")

	adv := advisor.NewMockAdvisor()
	adv.SuggestQueriesFunc = func(_ context.Context, _ string, limit int) ([]models.QuerySuggestion, error) {
		return []models.QuerySuggestion{
			{Text: "Database Tuning", Score: 0.9},
			{Text: "database sharding", Score: 0.7},
		}, nil
	}

	o := newOrchestrator(provider, gateway, adv)
	suggestions, err := o.GetSearchSuggestions(ctx, "database", []uuid.UUID{tenant})
	require.NoError(t, err)

	texts := make([]string, len(suggestions))
	types := make(map[string]string)
	for i, s := range suggestions {
		texts[i] = s.Text
		types[s.Text] = s.Type
	}

	// Score descending: popularity counts beat the advisor's relatedness
	// scores, which beat the fixed recent and completion scores.
	assert.Equal(t, []string{
		"database migrations",
		"Database Tuning",
		"database sharding",
		"database indexes",
		"database design",
	}, texts)

	// The advisor saw "database tuning" first, so the popular duplicate
	// was dropped and the advisor's casing and type won.
	assert.Equal(t, "related", types["Database Tuning"])
	assert.Equal(t, "popular", types["database migrations"])
	assert.Equal(t, "recent", types["database indexes"])
	assert.Equal(t, "completion", types["database design"])
	assert.NotContains(t, texts, "database tuning")
	assert.NotContains(t, texts, "unrelated thing")
}

func TestGetSearchSuggestionsEmptyPartial(t *testing.T) {
	o := newOrchestrator(&mockProvider{}, nil, nil)
	suggestions, err := o.GetSearchSuggestions(context.Background(), "  ", nil)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestGetSearchSuggestionsCap(t *testing.T) {
	tenant := uuid.New()
	many := make([]string, 30)
	for i := range many {
		many[i] = "database topic " + string(rune('a'+i))
	}
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenant: {suggestions: many},
	}}

	o := newOrchestrator(provider, nil, nil)
	suggestions, err := o.GetSearchSuggestions(context.Background(), "database", []uuid.UUID{tenant})
	require.NoError(t, err)
	assert.Len(t, suggestions, 10)
}

func TestCacheKeyDeterministic(t *testing.T) {
	tenant := uuid.New()
	a := models.SearchRequest{Query: "x", TenantIDs: []uuid.UUID{tenant}, Limit: 20}
	b := models.SearchRequest{Query: "x", TenantIDs: []uuid.UUID{tenant}, Limit: 20}
	a.Normalize()
	b.Normalize()

	assert.Equal(t, cacheKey(&a), cacheKey(&b))

	c := b
	c.Query = "y"
	assert.NotEqual(t, cacheKey(&a), cacheKey(&c))
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	t1, t2 := uuid.New(), uuid.New()
	a := models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{t1, t2},
		Tables:    []string{"articles", "comments"},
	}
	b := models.SearchRequest{
		Query:     "x",
		TenantIDs: []uuid.UUID{t2, t1},
		Tables:    []string{"comments", "articles"},
	}
	a.Normalize()
	b.Normalize()

	assert.Equal(t, cacheKey(&a), cacheKey(&b))
}

func TestSearchRecordsAnalytics(t *testing.T) {
	tenant := uuid.New()
	provider := &mockProvider{searchers: map[uuid.UUID]*mockSearcher{
		tenant: {rows: []datasource.MatchedRow{row("articles", 0.9, "x")}},
	}}
	sink := &captureSink{}

	o := NewOrchestrator(provider, nil, nil, sink, testConfig(), zap.NewNop())
	_, err := o.Search(context.Background(), models.SearchRequest{
		Query:       "x",
		TenantIDs:   []uuid.UUID{tenant},
		RequesterID: "user-42",
	})
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "user-42", sink.events[0].RequesterID)
	assert.Equal(t, "x", sink.events[0].Query)
	assert.Equal(t, 1, sink.events[0].ResultCount)
	assert.WithinDuration(t, time.Now(), sink.events[0].Timestamp, time.Minute)
}

type captureSink struct {
	mu     sync.Mutex
	events []models.SearchEvent
}

func (s *captureSink) RecordSearch(event models.SearchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}
