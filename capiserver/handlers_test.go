// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capiserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preventioid-id/mysmartcapi/capisync"
)

func newTestHandlers(auth ClientAuthenticator) (*Handlers, *MemStore) {
	store := NewMemStore()
	return NewHandlers(NewSyncService(store, nil), auth, nil), store
}

func syncBody(t *testing.T, items ...capisync.SyncItem) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(capisync.SyncRequest{Items: items})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestHandleSyncRejectsNonPost(t *testing.T) {
	h, _ := newTestHandlers(nil)
	rec := httptest.NewRecorder()
	h.HandleSync(rec, httptest.NewRequest(http.MethodGet, "/api/sync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var errResp capisync.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, "method_not_allowed", errResp.Error)
}

func TestHandleSyncRejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandlers(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewReader([]byte("{not json")))
	h.HandleSync(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncRequiresValidToken(t *testing.T) {
	h, _ := newTestHandlers(NewJWTAuth("test-secret"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", syncBody(t))
	h.HandleSync(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/sync", syncBody(t))
	req.Header.Set("Authorization", "Bearer not-a-token")
	h.HandleSync(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSyncAuthenticatedBatch(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	h, store := newTestHandlers(jwtAuth)

	token, err := jwtAuth.GenerateToken("enum-7", "device-3", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync",
		syncBody(t, newItem("r1", time.Now().UTC()), newItem("r2", time.Now().UTC())))
	req.Header.Set("Authorization", "Bearer "+token)
	h.HandleSync(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp capisync.SyncResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	for _, result := range resp.Results {
		assert.Equal(t, capisync.ServerStatusCreated, result.Status)
	}

	stored, err := store.Get(req.Context(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "enum-7", stored.EnumeratorID)
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandlers(nil)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodHead, "/api/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	rec = httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMuxRoutes(t *testing.T) {
	h, _ := newTestHandlers(nil)
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	resp, err := http.Head(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJWTRoundTrip(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("enum-7", "device-3", time.Hour)
	require.NoError(t, err)

	claims, err := jwtAuth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "enum-7", claims.Subject)
	assert.Equal(t, "device-3", claims.DeviceID)

	_, err = NewJWTAuth("other-secret").ValidateToken(token)
	require.Error(t, err)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("enum-7", "device-3", -time.Minute)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(token)
	require.Error(t, err)
}
