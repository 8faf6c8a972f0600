// Package common provides shared response helpers for the API handlers.
package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/launchfold/tenant-sync-server/internal/engine"
	"github.com/launchfold/tenant-sync-server/internal/store"
)

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	errorResp := map[string]string{
		"error": message,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}

// WriteResult serializes an engine result, mapping its failure taxonomy onto
// an HTTP status code.
func WriteResult(w http.ResponseWriter, result engine.Result) {
	WriteJSONResponse(w, result, StatusFor(result))
}

// StatusFor maps an engine result onto an HTTP status code
func StatusFor(result engine.Result) int {
	if result.Success {
		return http.StatusOK
	}
	if result.Err == nil {
		return http.StatusInternalServerError
	}
	switch result.Err.Kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindCredential:
		return http.StatusUnauthorized
	case engine.KindRemoteNotFound:
		return http.StatusBadGateway
	case engine.KindLocalStore:
		if errors.Is(result.Err.Err, store.ErrDuplicate) {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case engine.KindRemoteConflict:
		return http.StatusConflict
	case engine.KindRemotePartial, engine.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
