package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
	"github.com/fedsearch-inc/fedsearch-engine/pkg/models"
)

// ConnectionManager is the tenant connection lifecycle surface the handler
// exposes over HTTP. *services.ConnectionService satisfies it.
type ConnectionManager interface {
	AddConnection(ctx context.Context, conn *models.TenantConnection) error
	RemoveConnection(ctx context.Context, id uuid.UUID) error
	GetConnection(ctx context.Context, id uuid.UUID) (*models.TenantConnection, error)
	ListConnections(ctx context.Context) ([]*models.TenantConnection, error)
	TestConnection(ctx context.Context, id uuid.UUID) bool
	Statuses(ctx context.Context) map[uuid.UUID]bool
	DiscoverSchema(ctx context.Context, id uuid.UUID) ([]models.TableSchema, error)
	AnalyzeQuery(ctx context.Context, id uuid.UUID, rawQuery string) ([]map[string]any, error)
}

// ConnectionHandler handles tenant connection registry endpoints.
type ConnectionHandler struct {
	svc    ConnectionManager
	logger *zap.Logger
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(svc ConnectionManager, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the connection handler's routes on the given mux.
func (h *ConnectionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/connections", h.Create)
	mux.HandleFunc("GET /api/connections", h.List)
	mux.HandleFunc("GET /api/connections/statuses", h.Statuses)
	mux.HandleFunc("GET /api/connections/{id}", h.Get)
	mux.HandleFunc("DELETE /api/connections/{id}", h.Delete)
	mux.HandleFunc("POST /api/connections/{id}/test", h.Test)
	mux.HandleFunc("GET /api/connections/{id}/schema", h.Schema)
	mux.HandleFunc("POST /api/connections/{id}/analyze", h.Analyze)
}

// createConnectionRequest carries the registration payload. The password
// never appears in any response; TenantConnection omits it from JSON.
type createConnectionRequest struct {
	Name     string `json:"name"`
	Dialect  string `json:"dialect"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	TLSMode  string `json:"tls_mode"`
}

func (r *createConnectionRequest) validate() string {
	switch {
	case r.Name == "":
		return "name is required"
	case r.Dialect == "":
		return "dialect is required"
	case r.Host == "":
		return "host is required"
	case r.Port <= 0 || r.Port > 65535:
		return "port must be in (0, 65535]"
	case r.Username == "":
		return "username is required"
	case r.Database == "":
		return "database is required"
	}
	return ""
}

// Create handles POST /api/connections. The connection is probed before it
// is accepted; an unreachable database is rejected and nothing is stored.
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", msg)
		return
	}

	conn := &models.TenantConnection{
		Name:     req.Name,
		Dialect:  models.Dialect(req.Dialect),
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Database: req.Database,
		TLSMode:  req.TLSMode,
	}
	if err := h.svc.AddConnection(r.Context(), conn); err != nil {
		h.logger.Warn("Connection registration rejected",
			zap.String("name", req.Name),
			zap.Error(err))
		_ = WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, conn); err != nil {
		h.logger.Error("Failed to encode connection response", zap.Error(err))
	}
}

// List handles GET /api/connections.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.svc.ListConnections(r.Context())
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// Get handles GET /api/connections/{id}.
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	conn, err := h.svc.GetConnection(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, conn)
}

// Delete handles DELETE /api/connections/{id}. Removal is idempotent;
// deleting an unknown id still returns 204.
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RemoveConnection(r.Context(), id); err != nil {
		_ = WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/connections/{id}/test.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	reachable := h.svc.TestConnection(r.Context(), id)
	_ = WriteJSON(w, http.StatusOK, map[string]bool{"reachable": reachable})
}

// Statuses handles GET /api/connections/statuses. Every registered tenant is
// probed in parallel; the response maps connection id to reachability.
func (h *ConnectionHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.svc.Statuses(r.Context())
	out := make(map[string]bool, len(statuses))
	for id, up := range statuses {
		out[id.String()] = up
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"statuses": out})
}

// Schema handles GET /api/connections/{id}/schema. Discovery always runs
// against the live tenant database; nothing is cached server-side.
func (h *ConnectionHandler) Schema(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tables, err := h.svc.DiscoverSchema(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

type analyzeQueryRequest struct {
	Query string `json:"query"`
}

// Analyze handles POST /api/connections/{id}/analyze. Only read-only
// statements are accepted; the plan is returned without executing the query.
func (h *ConnectionHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req analyzeQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "query is required")
		return
	}

	plan, err := h.svc.AnalyzeQuery(r.Context(), id, req.Query)
	if err != nil {
		_ = writeAnalyzeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

// writeAnalyzeError treats unknown analyze failures as client errors: the
// dominant cause is a statement the read-only validator refused.
func writeAnalyzeError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrConnectionUnreachable):
		return WriteError(w, err)
	default:
		return ErrorResponse(w, http.StatusBadRequest, "invalid_query", err.Error())
	}
}

func (h *ConnectionHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "connection id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
