package advisor

import (
	"context"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// MockAdvisor is a configurable mock for testing search enrichment.
// Set the function fields to control behavior in tests.
type MockAdvisor struct {
	// Available is returned by IsAvailable. Defaults to true.
	Available *bool

	// RewriteQueryFunc is called when RewriteQuery is invoked.
	// If nil, returns the query unchanged.
	RewriteQueryFunc func(ctx context.Context, query string) (string, error)

	// SuggestQueriesFunc is called when SuggestQueries is invoked.
	// If nil, returns nil.
	SuggestQueriesFunc func(ctx context.Context, partial string, limit int) ([]models.QuerySuggestion, error)

	// CategorizeResultsFunc is called when CategorizeResults is invoked.
	// If nil, returns nil.
	CategorizeResultsFunc func(ctx context.Context, query string, results []models.SearchResult) ([]models.Category, error)

	// SuggestOptimizationsFunc is called when SuggestOptimizations is invoked.
	// If nil, returns nil.
	SuggestOptimizationsFunc func(ctx context.Context, query string, executionTimeMs int64, resultCount int) ([]models.OptimizationHint, error)

	// Call tracking for verification
	RewriteQueryCalls         int
	SuggestQueriesCalls       int
	CategorizeResultsCalls    int
	SuggestOptimizationsCalls int
}

// NewMockAdvisor creates a mock that reports availability and echoes.
func NewMockAdvisor() *MockAdvisor {
	return &MockAdvisor{}
}

func (m *MockAdvisor) IsAvailable() bool {
	if m.Available == nil {
		return true
	}
	return *m.Available
}

func (m *MockAdvisor) RewriteQuery(ctx context.Context, query string) (string, error) {
	m.RewriteQueryCalls++
	if m.RewriteQueryFunc != nil {
		return m.RewriteQueryFunc(ctx, query)
	}
	return query, nil
}

func (m *MockAdvisor) SuggestQueries(ctx context.Context, partial string, limit int) ([]models.QuerySuggestion, error) {
	m.SuggestQueriesCalls++
	if m.SuggestQueriesFunc != nil {
		return m.SuggestQueriesFunc(ctx, partial, limit)
	}
	return nil, nil
}

func (m *MockAdvisor) CategorizeResults(ctx context.Context, query string, results []models.SearchResult) ([]models.Category, error) {
	m.CategorizeResultsCalls++
	if m.CategorizeResultsFunc != nil {
		return m.CategorizeResultsFunc(ctx, query, results)
	}
	return nil, nil
}

func (m *MockAdvisor) SuggestOptimizations(ctx context.Context, query string, executionTimeMs int64, resultCount int) ([]models.OptimizationHint, error) {
	m.SuggestOptimizationsCalls++
	if m.SuggestOptimizationsFunc != nil {
		return m.SuggestOptimizationsFunc(ctx, query, executionTimeMs, resultCount)
	}
	return nil, nil
}

var _ AdvisorPort = (*MockAdvisor)(nil)
