package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fedsearch-inc/fedsearch-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a service-layer error onto an HTTP status and error code.
// Errors that do not wrap a known sentinel become 500s.
func WriteError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedDialect):
		return ErrorResponse(w, http.StatusBadRequest, "unsupported_dialect", err.Error())
	case errors.Is(err, apperrors.ErrConnectionUnreachable):
		return ErrorResponse(w, http.StatusBadGateway, "connection_unreachable", err.Error())
	case errors.Is(err, apperrors.ErrSchemaDiscoveryFailed):
		return ErrorResponse(w, http.StatusBadGateway, "schema_discovery_failed", err.Error())
	case errors.Is(err, apperrors.ErrSearchFailed):
		return ErrorResponse(w, http.StatusBadGateway, "search_failed", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
