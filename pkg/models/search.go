package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SearchMode selects how the query text is interpreted by the native
// full-text engine.
type SearchMode string

const (
	SearchModeNatural  SearchMode = "natural"
	SearchModeBoolean  SearchMode = "boolean"
	SearchModeSemantic SearchMode = "semantic"
)

const (
	// MaxSearchLimit caps the page size of a single search request.
	MaxSearchLimit = 100
	// DefaultSearchLimit is used when a request does not specify a limit.
	DefaultSearchLimit = 20
)

// SearchRequest is one federated search call across a set of tenants.
type SearchRequest struct {
	Query            string      `json:"query"`
	TenantIDs        []uuid.UUID `json:"tenant_ids"`
	Tables           []string    `json:"tables,omitempty"`
	Columns          []string    `json:"columns,omitempty"`
	Mode             SearchMode  `json:"mode,omitempty"`
	Limit            int         `json:"limit,omitempty"`
	Offset           int         `json:"offset,omitempty"`
	RequesterID      string      `json:"requester_id,omitempty"`
	IncludeAnalytics bool        `json:"include_analytics,omitempty"`
}

// Normalize trims the query, deduplicates tenant ids preserving first
// occurrence order, clamps the limit into [1, MaxSearchLimit] and the offset
// to >= 0, and defaults the mode to natural.
func (r *SearchRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)

	seen := make(map[uuid.UUID]struct{}, len(r.TenantIDs))
	deduped := r.TenantIDs[:0]
	for _, id := range r.TenantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	r.TenantIDs = deduped

	if r.Limit <= 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.Limit > MaxSearchLimit {
		r.Limit = MaxSearchLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	if r.Mode == "" {
		r.Mode = SearchModeNatural
	}
}

// SearchResult is a single matched row. Data carries the matched columns'
// values only; engine bookkeeping (relevance, table tag) lives in typed
// fields, never in the row map.
type SearchResult struct {
	ID             string         `json:"id"`
	Table          string         `json:"table"`
	TenantID       string         `json:"tenant_id"`
	RelevanceScore float64        `json:"relevance_score"`
	MatchedColumns []string       `json:"matched_columns"`
	Data           map[string]any `json:"data"`
	Snippet        string         `json:"snippet,omitempty"`
}

// QuerySuggestion is one completion or related-query candidate.
type QuerySuggestion struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Type  string  `json:"type"` // "completion", "popular", "recent", "related"
}

// Category is an advisor-derived grouping of results.
type Category struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
}

// OptimizationHint is an advisory suggestion for improving a slow query.
type OptimizationHint struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
	SQLHint     string `json:"sql_hint,omitempty"`
}

// SearchResponse is the assembled result of a federated search. Advisory
// fields default to empty when the advisor is unavailable.
type SearchResponse struct {
	Results           []SearchResult     `json:"results"`
	TotalCount        int                `json:"total_count"`
	ExecutionTimeMs   int64              `json:"execution_time_ms"`
	Page              int                `json:"page"`
	Limit             int                `json:"limit"`
	Categories        []Category         `json:"categories,omitempty"`
	Suggestions       []QuerySuggestion  `json:"suggestions,omitempty"`
	QueryOptimization []OptimizationHint `json:"query_optimization,omitempty"`
}

// SearchEvent is the analytics record emitted after every search.
type SearchEvent struct {
	RequesterID     string     `json:"requester_id"`
	Query           string     `json:"query"`
	TenantIDs       []string   `json:"tenant_ids"`
	ResultCount     int        `json:"result_count"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	Mode            SearchMode `json:"mode"`
	Timestamp       time.Time  `json:"timestamp"`
}
