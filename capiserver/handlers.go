// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capiserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/preventioid-id/mysmartcapi/capisync"
	"github.com/preventioid-id/mysmartcapi/internal/auth"
)

// Handlers provides the HTTP surface consumed by field devices.
type Handlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHandlers creates the sync HTTP handlers. A nil authenticator disables
// auth (tests and local development only).
func NewHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, authenticator: authenticator, logger: logger}
}

// Mux returns a ServeMux with the sync, health and metrics routes bound.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync", h.HandleSync)
	mux.HandleFunc("/api/health", h.HandleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// HandleSync processes one batch upload and returns per-record outcomes.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	ctx := r.Context()
	enumeratorID := ""
	if h.authenticator != nil {
		id, err := h.authenticator.GetEnumeratorID(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		enumeratorID = id
		ctx = auth.SetEnumeratorID(ctx, id)
		if deviceID, err := h.authenticator.GetDeviceID(r); err == nil {
			ctx = auth.SetDeviceID(ctx, deviceID)
		}
	}

	var syncReq capisync.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&syncReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse sync request")
		return
	}

	response, err := h.service.ProcessBatch(ctx, enumeratorID, &syncReq)
	if err != nil {
		h.logger.Error("Failed to process sync batch", "error", err, "enumerator_id", enumeratorID)
		h.writeError(w, http.StatusInternalServerError, "sync_failed", "Failed to process sync batch")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode sync response", "error", err, "enumerator_id", enumeratorID)
	}
}

// HandleHealth answers the connectivity probe. Any 2xx counts as reachable;
// HEAD gets 204, GET gets a small status body.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET and HEAD are allowed")
	}
}

// writeError writes a standardized error response.
func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(capisync.ErrorResponse{Error: errorCode, Message: message})

	h.logger.Debug("HTTP error response",
		"status_code", statusCode, "error_code", errorCode, "message", message)
}
