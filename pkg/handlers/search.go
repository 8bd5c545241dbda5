package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/cache"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/sql"
)

const defaultPopularLimit = 10

// SearchService is the federated search surface the handler exposes.
// *search.Orchestrator satisfies it.
type SearchService interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	GetSearchSuggestions(ctx context.Context, partial string, tenantIDs []uuid.UUID) ([]models.QuerySuggestion, error)
}

// PopularQuerySource serves the most-searched query terms. *cache.Gateway
// satisfies it; with no cache the list is empty.
type PopularQuerySource interface {
	TopQueries(ctx context.Context, n int) []cache.QueryCount
}

// SearchHandler handles federated search endpoints.
type SearchHandler struct {
	svc     SearchService
	popular PopularQuerySource
	logger  *zap.Logger
}

// NewSearchHandler creates a new SearchHandler. popular may be nil.
func NewSearchHandler(svc SearchService, popular PopularQuerySource, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{svc: svc, popular: popular, logger: logger}
}

// RegisterRoutes registers the search handler's routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.Search)
	mux.HandleFunc("GET /api/search/suggestions", h.Suggestions)
	mux.HandleFunc("GET /api/search/popular", h.Popular)
}

// Search handles POST /api/search. Query text and any table or column
// filters are screened for SQL injection patterns before any tenant is
// dispatched to, even though tenant adapters only ever pass the query as a
// bind parameter and validate filters against the discovered schema.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	if req.RequesterID == "" {
		req.RequesterID = r.Header.Get("X-Requester-ID")
	}

	fields := map[string]string{"query": req.Query}
	for i, table := range req.Tables {
		fields["tables["+strconv.Itoa(i)+"]"] = table
	}
	for i, column := range req.Columns {
		fields["columns["+strconv.Itoa(i)+"]"] = column
	}
	if results := sql.CheckSearchInputs(fields); results != nil {
		h.logger.Warn("Search request rejected by injection screen",
			zap.String("field", results[0].Field),
			zap.String("fingerprint", results[0].Fingerprint),
			zap.String("requester_id", req.RequesterID))
		_ = ErrorResponse(w, http.StatusBadRequest, "query_rejected",
			"request text matches a SQL injection pattern")
		return
	}

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode search response", zap.Error(err))
	}
}

// Suggestions handles GET /api/search/suggestions?q=...&tenant_ids=a,b.
func (h *SearchHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	partial := strings.TrimSpace(r.URL.Query().Get("q"))
	if partial == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_query_param", "q is required")
		return
	}
	if result := sql.CheckSearchInput("q", partial); result != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "query_rejected",
			"query text matches a SQL injection pattern")
		return
	}

	tenantIDs, err := parseTenantIDs(r.URL.Query().Get("tenant_ids"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_query_param", "tenant_ids must be comma-separated UUIDs")
		return
	}

	suggestions, err := h.svc.GetSearchSuggestions(r.Context(), partial, tenantIDs)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// Popular handles GET /api/search/popular?limit=n.
func (h *SearchHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit := defaultPopularLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_query_param", "limit must be a positive integer")
			return
		}
		limit = n
	}

	queries := []cache.QueryCount{}
	if h.popular != nil {
		if top := h.popular.TopQueries(r.Context(), limit); top != nil {
			queries = top
		}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

func parseTenantIDs(raw string) ([]uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
