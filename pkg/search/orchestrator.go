// Package search coordinates federated full-text searches across tenant
// databases: fan-out, ranking, pagination, caching and advisory enrichment.
package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/adapters/datasource"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/advisor"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/analytics"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/cache"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/config"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// slowQueryThresholdMs is the execution time past which the advisor is asked
// for optimization hints.
const slowQueryThresholdMs = 1000

// Fixed scores for suggestion sources that carry no popularity count.
// Recents rank above probes so a tenant's own history surfaces first.
const (
	recentSuggestionScore     = 0.6
	completionSuggestionScore = 0.5
)

// SearcherProvider hands out per-tenant full-text searchers. Satisfied by
// the datasource pool manager.
type SearcherProvider interface {
	Searcher(id uuid.UUID, logger *zap.Logger) (datasource.FullTextSearcher, error)
}

// Orchestrator runs federated searches. All collaborators are optional-safe:
// a down cache degrades to uncached searches, a disabled advisor to plain
// results.
type Orchestrator struct {
	provider SearcherProvider
	gateway  *cache.Gateway
	advisor  advisor.AdvisorPort
	sink     analytics.AnalyticsSink
	cfg      config.SearchConfig
	logger   *zap.Logger
}

// NewOrchestrator wires the search pipeline.
func NewOrchestrator(
	provider SearcherProvider,
	gateway *cache.Gateway,
	adv advisor.AdvisorPort,
	sink analytics.AnalyticsSink,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if adv == nil {
		adv = advisor.Disabled{}
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &Orchestrator{
		provider: provider,
		gateway:  gateway,
		advisor:  adv,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
	}
}

// cacheKeyPayload is the canonical shape hashed into the cache key. Only
// fields that change the result set belong here.
type cacheKeyPayload struct {
	Query     string            `json:"q"`
	TenantIDs []string          `json:"t"`
	Tables    []string          `json:"tb,omitempty"`
	Columns   []string          `json:"c,omitempty"`
	Mode      models.SearchMode `json:"m"`
	Limit     int               `json:"l"`
	Offset    int               `json:"o"`
}

// cacheKey derives a deterministic key from the normalized request. List
// fields are sorted so requests differing only in ordering share an entry.
func cacheKey(req *models.SearchRequest) string {
	tenants := make([]string, len(req.TenantIDs))
	for i, id := range req.TenantIDs {
		tenants[i] = id.String()
	}
	sort.Strings(tenants)
	payload, _ := json.Marshal(cacheKeyPayload{
		Query:     req.Query,
		TenantIDs: tenants,
		Tables:    sortedCopy(req.Tables),
		Columns:   sortedCopy(req.Columns),
		Mode:      req.Mode,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	return "search:" + base64.RawURLEncoding.EncodeToString(payload)
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

// tenantResult is one tenant's slice of the fan-out.
type tenantResult struct {
	tenantID uuid.UUID
	rows     []datasource.MatchedRow
	err      error
}

// Search runs one federated search across the requested tenants.
func (o *Orchestrator) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	req.Normalize()

	// An empty query is an empty answer, not an error; nothing is dispatched.
	if req.Query == "" {
		return o.emptyResponse(&req, start), nil
	}

	// Analytics requests bypass the cache entirely: every one must reach
	// the tenants and be recorded, and their responses are never stored.
	key := cacheKey(&req)
	if o.gateway != nil && !req.IncludeAnalytics {
		var cached models.SearchResponse
		if o.gateway.Get(ctx, key, &cached) {
			o.logger.Debug("search cache hit", zap.String("query", req.Query))
			return &cached, nil
		}
	}

	effectiveQuery := req.Query
	if req.Mode == models.SearchModeSemantic {
		effectiveQuery = o.rewriteForSemantic(ctx, req.Query)
	}

	if len(req.TenantIDs) == 0 {
		return o.emptyResponse(&req, start), nil
	}

	perTenant := o.fanOut(ctx, effectiveQuery, &req)

	results, failures, firstErr := o.collect(perTenant, &req)
	if failures == len(req.TenantIDs) {
		return nil, fmt.Errorf("%w: all %d tenants failed: %v", apperrors.ErrSearchFailed, failures, firstErr)
	}

	sortResults(results)
	total := len(results)
	page := paginate(results, req.Offset, req.Limit)

	resp := &models.SearchResponse{
		Results:         page,
		TotalCount:      total,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Page:            req.Offset/req.Limit + 1,
		Limit:           req.Limit,
	}

	o.enrich(ctx, &req, resp)

	if o.gateway != nil && !req.IncludeAnalytics {
		o.gateway.Set(ctx, key, resp, time.Duration(o.cfg.CacheTTLSeconds)*time.Second)
	}

	o.sink.RecordSearch(models.SearchEvent{
		RequesterID:     req.RequesterID,
		Query:           req.Query,
		TenantIDs:       tenantStrings(req.TenantIDs),
		ResultCount:     total,
		ExecutionTimeMs: resp.ExecutionTimeMs,
		Mode:            req.Mode,
		Timestamp:       time.Now(),
	})

	return resp, nil
}

func (o *Orchestrator) emptyResponse(req *models.SearchRequest, start time.Time) *models.SearchResponse {
	return &models.SearchResponse{
		Results:         []models.SearchResult{},
		TotalCount:      0,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Page:            req.Offset/req.Limit + 1,
		Limit:           req.Limit,
	}
}

// rewriteForSemantic asks the advisor for a keyword form of the query.
// Any failure falls back to the original text.
func (o *Orchestrator) rewriteForSemantic(ctx context.Context, query string) string {
	if !o.advisor.IsAvailable() {
		return query
	}
	rewritten, err := o.advisor.RewriteQuery(ctx, query)
	if err != nil {
		o.logger.Warn("semantic rewrite failed, using original query", zap.Error(err))
		return query
	}
	o.logger.Debug("semantic rewrite",
		zap.String("original", query),
		zap.String("rewritten", rewritten),
	)
	return rewritten
}

// fanOut queries every tenant concurrently. Each tenant fetches the full
// window (offset+limit from position zero) because global ranking happens
// after the merge; a tenant-local offset would drop globally relevant rows.
func (o *Orchestrator) fanOut(ctx context.Context, query string, req *models.SearchRequest) []tenantResult {
	opts := datasource.SearchOptions{
		Tables:  req.Tables,
		Columns: req.Columns,
		Mode:    req.Mode,
		Limit:   req.Offset + req.Limit,
		Offset:  0,
	}

	results := make([]tenantResult, len(req.TenantIDs))
	var wg sync.WaitGroup
	for i, tenantID := range req.TenantIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = tenantResult{tenantID: tenantID}

			searcher, err := o.provider.Searcher(tenantID, o.logger)
			if err != nil {
				results[i].err = err
				return
			}
			rows, err := searcher.ExecuteFullTextSearch(ctx, query, opts)
			if err != nil {
				results[i].err = err
				return
			}
			results[i].rows = rows
		}()
	}
	wg.Wait()
	return results
}

// collect flattens per-tenant rows into results, skipping failed tenants.
// The first tenant error is kept so a total failure can name its cause.
func (o *Orchestrator) collect(perTenant []tenantResult, req *models.SearchRequest) ([]models.SearchResult, int, error) {
	failures := 0
	var firstErr error
	var results []models.SearchResult

	for _, tr := range perTenant {
		if tr.err != nil {
			failures++
			if firstErr == nil {
				firstErr = tr.err
			}
			o.logger.Warn("tenant search failed",
				zap.String("tenant_id", tr.tenantID.String()),
				zap.Error(tr.err),
			)
			continue
		}
		for ordinal, row := range tr.rows {
			results = append(results, models.SearchResult{
				ID:             fmt.Sprintf("%s:%s:%d", tr.tenantID, row.Table, ordinal),
				Table:          row.Table,
				TenantID:       tr.tenantID.String(),
				RelevanceScore: row.Relevance,
				MatchedColumns: row.MatchedColumns,
				Data:           row.Data,
				Snippet:        buildSnippet(row.Data, row.MatchedColumns, req.Query),
			})
		}
	}
	return results, failures, firstErr
}

// sortResults orders by relevance descending with a deterministic
// tie-break so identical requests always paginate identically.
func sortResults(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].ID < results[j].ID
	})
}

func paginate(results []models.SearchResult, offset, limit int) []models.SearchResult {
	if offset >= len(results) {
		return []models.SearchResult{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

// enrich attaches advisory categories and optimization hints. Failures are
// logged and leave the response unenriched.
func (o *Orchestrator) enrich(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) {
	if !o.advisor.IsAvailable() || len(resp.Results) == 0 {
		return
	}

	categories, err := o.advisor.CategorizeResults(ctx, req.Query, resp.Results)
	if err != nil {
		o.logger.Warn("result categorization failed", zap.Error(err))
	} else {
		resp.Categories = categories
	}

	if resp.ExecutionTimeMs > slowQueryThresholdMs {
		hints, err := o.advisor.SuggestOptimizations(ctx, req.Query, resp.ExecutionTimeMs, resp.TotalCount)
		if err != nil {
			o.logger.Warn("optimization advice failed", zap.Error(err))
		} else {
			resp.QueryOptimization = hints
		}
	}
}

// GetSearchSuggestions merges completion sources for a partial query:
// advisor-proposed related queries, popular and recent recorded queries,
// and live column probes across the requested tenants. Advisor entries go
// in first and win duplicates; the merged set is deduplicated by text,
// sorted by score descending, and capped at the configured maximum.
func (o *Orchestrator) GetSearchSuggestions(ctx context.Context, partial string, tenantIDs []uuid.UUID) ([]models.QuerySuggestion, error) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return []models.QuerySuggestion{}, nil
	}

	max := o.cfg.MaxSuggestions
	if max <= 0 {
		max = 10
	}

	var suggestions []models.QuerySuggestion
	seen := make(map[string]bool)
	add := func(s models.QuerySuggestion) {
		text := strings.TrimSpace(s.Text)
		if text == "" || seen[strings.ToLower(text)] {
			return
		}
		seen[strings.ToLower(text)] = true
		s.Text = text
		suggestions = append(suggestions, s)
	}
	matches := func(candidate string) bool {
		return strings.HasPrefix(strings.ToLower(candidate), strings.ToLower(partial))
	}

	if o.advisor.IsAvailable() {
		related, err := o.advisor.SuggestQueries(ctx, partial, max)
		if err != nil {
			o.logger.Debug("advisor suggestions failed", zap.Error(err))
		} else {
			for _, s := range related {
				if s.Type == "" {
					s.Type = "related"
				}
				add(s)
			}
		}
	}

	if o.gateway != nil {
		// A tenant's own recent queries take precedence over the global
		// popular list on a duplicate.
		for _, tenantID := range tenantIDs {
			for _, q := range o.gateway.RecentQueries(ctx, tenantID.String(), max) {
				if matches(q) {
					add(models.QuerySuggestion{Text: q, Score: recentSuggestionScore, Type: "recent"})
				}
			}
		}
		for _, qc := range o.gateway.TopQueries(ctx, max*4) {
			if matches(qc.Query) {
				add(models.QuerySuggestion{Text: qc.Query, Score: qc.Count, Type: "popular"})
			}
		}
	}

	for _, tenantID := range tenantIDs {
		searcher, err := o.provider.Searcher(tenantID, o.logger)
		if err != nil {
			o.logger.Debug("suggestion tenant unavailable",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		values, err := searcher.GetSearchSuggestions(ctx, partial, nil, max)
		if err != nil {
			o.logger.Debug("suggestion probe failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		for _, v := range values {
			add(models.QuerySuggestion{Text: v, Score: completionSuggestionScore, Type: "completion"})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > max {
		suggestions = suggestions[:max]
	}
	return suggestions, nil
}

func tenantStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
