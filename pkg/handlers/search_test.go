package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/cache"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

type mockSearchService struct {
	searchFunc      func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	suggestionsFunc func(ctx context.Context, partial string, tenantIDs []uuid.UUID) ([]models.QuerySuggestion, error)
}

func (m *mockSearchService) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, req)
	}
	return &models.SearchResponse{Results: []models.SearchResult{}}, nil
}

func (m *mockSearchService) GetSearchSuggestions(ctx context.Context, partial string, tenantIDs []uuid.UUID) ([]models.QuerySuggestion, error) {
	if m.suggestionsFunc != nil {
		return m.suggestionsFunc(ctx, partial, tenantIDs)
	}
	return nil, nil
}

type mockPopularSource struct {
	queries []cache.QueryCount
}

func (m *mockPopularSource) TopQueries(ctx context.Context, n int) []cache.QueryCount {
	if n < len(m.queries) {
		return m.queries[:n]
	}
	return m.queries
}

func newSearchMux(svc SearchService, popular PopularQuerySource) *http.ServeMux {
	mux := http.NewServeMux()
	NewSearchHandler(svc, popular, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestSearchHandler_Search(t *testing.T) {
	var captured models.SearchRequest
	svc := &mockSearchService{
		searchFunc: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			captured = req
			return &models.SearchResponse{
				Results: []models.SearchResult{
					{ID: "t1:articles:0", Table: "articles", RelevanceScore: 0.9},
				},
				TotalCount: 1,
				Limit:      20,
				Page:       1,
			}, nil
		},
	}

	tenantID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"query":      "dark matter",
		"tenant_ids": []string{tenantID.String()},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	req.Header.Set("X-Requester-ID", "analyst-7")
	rec := httptest.NewRecorder()
	newSearchMux(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dark matter", captured.Query)
	assert.Equal(t, []uuid.UUID{tenantID}, captured.TenantIDs)
	assert.Equal(t, "analyst-7", captured.RequesterID)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "articles", resp.Results[0].Table)
}

func TestSearchHandler_Search_BodyRequesterWins(t *testing.T) {
	var captured models.SearchRequest
	svc := &mockSearchService{
		searchFunc: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			captured = req
			return &models.SearchResponse{}, nil
		},
	}

	body, _ := json.Marshal(map[string]any{"query": "x", "requester_id": "from-body"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	req.Header.Set("X-Requester-ID", "from-header")
	rec := httptest.NewRecorder()
	newSearchMux(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-body", captured.RequesterID)
}

func TestSearchHandler_Search_InjectionRejected(t *testing.T) {
	called := false
	svc := &mockSearchService{
		searchFunc: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			called = true
			return &models.SearchResponse{}, nil
		},
	}

	body, _ := json.Marshal(map[string]any{"query": "' OR 1=1--"})
	rec := httptest.NewRecorder()
	newSearchMux(svc, nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query_rejected")
	assert.False(t, called, "orchestrator must not be dispatched for rejected queries")
}

func TestSearchHandler_Search_InjectionInFilterRejected(t *testing.T) {
	called := false
	svc := &mockSearchService{
		searchFunc: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			called = true
			return &models.SearchResponse{}, nil
		},
	}

	body, _ := json.Marshal(map[string]any{
		"query":  "quarterly revenue",
		"tables": []string{"articles", "' OR 1=1--"},
	})
	rec := httptest.NewRecorder()
	newSearchMux(svc, nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query_rejected")
	assert.False(t, called, "orchestrator must not be dispatched for rejected filters")
}

func TestSearchHandler_Search_AllTenantsFailed(t *testing.T) {
	svc := &mockSearchService{
		searchFunc: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return nil, apperrors.ErrSearchFailed
		},
	}

	body, _ := json.Marshal(map[string]any{"query": "anything"})
	rec := httptest.NewRecorder()
	newSearchMux(svc, nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "search_failed")
}

func TestSearchHandler_Search_InvalidBody(t *testing.T) {
	rec := httptest.NewRecorder()
	newSearchMux(&mockSearchService{}, nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader([]byte("{not json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchHandler_Suggestions(t *testing.T) {
	tenantID := uuid.New()
	svc := &mockSearchService{
		suggestionsFunc: func(ctx context.Context, partial string, tenantIDs []uuid.UUID) ([]models.QuerySuggestion, error) {
			require.Equal(t, "data", partial)
			require.Equal(t, []uuid.UUID{tenantID}, tenantIDs)
			return []models.QuerySuggestion{
				{Text: "database tuning", Score: 42, Type: "popular"},
			}, nil
		},
	}

	rec := httptest.NewRecorder()
	newSearchMux(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/search/suggestions?q=data&tenant_ids="+tenantID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "database tuning")
}

func TestSearchHandler_Suggestions_Validation(t *testing.T) {
	mux := newSearchMux(&mockSearchService{}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search/suggestions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/search/suggestions?q=data&tenant_ids=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchHandler_Popular(t *testing.T) {
	popular := &mockPopularSource{queries: []cache.QueryCount{
		{Query: "database tuning", Count: 42},
		{Query: "go generics", Count: 17},
	}}

	rec := httptest.NewRecorder()
	newSearchMux(&mockSearchService{}, popular).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/search/popular", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Queries []cache.QueryCount `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Queries, 2)
	assert.Equal(t, "database tuning", resp.Queries[0].Query)

	rec = httptest.NewRecorder()
	newSearchMux(&mockSearchService{}, popular).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/search/popular?limit=1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Queries, 1)
}

func TestSearchHandler_Popular_NoCache(t *testing.T) {
	rec := httptest.NewRecorder()
	newSearchMux(&mockSearchService{}, nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/search/popular", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queries": []}`, rec.Body.String())

	rec = httptest.NewRecorder()
	newSearchMux(&mockSearchService{}, nil).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/search/popular?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
