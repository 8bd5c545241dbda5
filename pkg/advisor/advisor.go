// Package advisor integrates an OpenAI-compatible endpoint as an optional
// query intelligence layer. Everything here is advisory: the search pipeline
// treats an unavailable or failing advisor as "no advice" and carries on.
package advisor

import (
	"context"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// AdvisorPort is the seam between the search pipeline and the language
// model. Implementations must bound their own latency; callers never wait on
// an advisor longer than its configured timeout.
type AdvisorPort interface {
	// IsAvailable reports whether advisory calls can be attempted at all.
	IsAvailable() bool

	// RewriteQuery reformulates a semantic-mode query into keyword form
	// suitable for the native full-text engines.
	RewriteQuery(ctx context.Context, query string) (string, error)

	// SuggestQueries proposes related queries for a partial input.
	SuggestQueries(ctx context.Context, partial string, limit int) ([]models.QuerySuggestion, error)

	// CategorizeResults groups search results into named categories.
	CategorizeResults(ctx context.Context, query string, results []models.SearchResult) ([]models.Category, error)

	// SuggestOptimizations proposes improvements for a slow search.
	SuggestOptimizations(ctx context.Context, query string, executionTimeMs int64, resultCount int) ([]models.OptimizationHint, error)
}

// Disabled is the advisor used when no endpoint is configured. Every call
// reports unavailability through IsAvailable; the other methods are never
// reached by a well-behaved caller but still answer harmlessly.
type Disabled struct{}

func (Disabled) IsAvailable() bool { return false }

func (Disabled) RewriteQuery(_ context.Context, query string) (string, error) {
	return query, nil
}

func (Disabled) SuggestQueries(context.Context, string, int) ([]models.QuerySuggestion, error) {
	return nil, nil
}

func (Disabled) CategorizeResults(context.Context, string, []models.SearchResult) ([]models.Category, error) {
	return nil, nil
}

func (Disabled) SuggestOptimizations(context.Context, string, int64, int) ([]models.OptimizationHint, error) {
	return nil, nil
}
