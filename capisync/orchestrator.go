// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrSyncInFlight is returned when AttemptSync is invoked while another
// attempt holds the in-flight guard. The caller should treat it as "work is
// already happening" rather than as a failure to schedule a retry for.
var ErrSyncInFlight = errors.New("sync attempt already in flight")

// TokenFunc supplies the bearer token attached to sync requests.
type TokenFunc func(ctx context.Context) (string, error)

// Orchestrator drains pending records from the local store, sends one batch
// request to the server and applies per-record outcomes back to the store.
// It does not retry internally; retry policy belongs to the scheduler.
type Orchestrator struct {
	store   *Store
	baseURL string
	token   TokenFunc
	http    *http.Client
	logger  *slog.Logger

	// Single-slot guard: at most one AttemptSync in flight. Without it two
	// trigger sources (manual retry + platform wake) could read overlapping
	// pending sets and double-submit the same batch.
	inFlight sync.Mutex
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithHTTPClient overrides the HTTP client used for batch submission.
func WithHTTPClient(c *http.Client) OrchestratorOption {
	return func(o *Orchestrator) { o.http = c }
}

// WithLogger overrides the orchestrator logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates a sync orchestrator against the given server base
// URL. The token func may be nil for servers that do not require auth.
func NewOrchestrator(store *Store, baseURL string, token TokenFunc, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		baseURL: baseURL,
		token:   token,
		// The timeout bounds batch-submission latency; expiry surfaces as a
		// transport failure and is handled like any other failed attempt.
		http:   &http.Client{Timeout: 120 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AttemptSync drains pending work exactly once. With zero pending records it
// returns successfully without a network call. A transport failure or
// non-success HTTP status leaves every record pending and propagates the
// error to the caller for retry scheduling. Partial application of results is
// safe: records not yet updated remain pending and are resubmitted on the
// next attempt, which is idempotent per record id.
func (o *Orchestrator) AttemptSync(ctx context.Context) error {
	if !o.inFlight.TryLock() {
		return ErrSyncInFlight
	}
	defer o.inFlight.Unlock()

	pending, err := o.store.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate pending records: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	req := &SyncRequest{Items: make([]SyncItem, 0, len(pending))}
	submitted := make(map[string]bool, len(pending))
	for _, rec := range pending {
		req.Items = append(req.Items, itemFromRecord(rec))
		submitted[rec.ID] = true
	}

	resp, err := o.sendSyncRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("sync attempt failed: %w", err)
	}

	resolved := 0
	for _, result := range resp.Results {
		if !submitted[result.ID] {
			// Reconciliation mismatch: the server answered for an id we did
			// not submit. Treated conservatively: log and ignore.
			o.logger.Warn("sync result for unsubmitted record ignored",
				"record_id", result.ID, "status", result.Status)
			continue
		}
		status := mapServerStatus(result.Status)
		if err := o.store.SetStatus(ctx, result.ID, status); err != nil {
			// Records not yet updated stay pending and will be resubmitted.
			return fmt.Errorf("failed to apply sync result for record %s: %w", result.ID, err)
		}
		if status == StatusConflict {
			o.logger.Warn("record reported as conflict, manual resolution required",
				"record_id", result.ID, "server_status", result.Status)
		}
		delete(submitted, result.ID)
		resolved++
	}

	// Submitted ids the server omitted stay pending for the next attempt.
	for id := range submitted {
		o.logger.Warn("no sync result for submitted record, keeping pending", "record_id", id)
	}

	o.logger.Info("sync attempt completed",
		"submitted", len(req.Items), "resolved", resolved, "unresolved", len(submitted))
	return nil
}

// mapServerStatus maps a server-reported outcome onto the local state
// machine. Conservative: an unexpected status is never treated as success.
func mapServerStatus(status string) SyncStatus {
	switch status {
	case ServerStatusCreated, ServerStatusUpdated:
		return StatusSynced
	default:
		return StatusConflict
	}
}

// sendSyncRequest posts one batch to the server's sync endpoint. A non-2xx
// status is treated uniformly with transport failures.
func (o *Orchestrator) sendSyncRequest(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.token != nil {
		token, err := o.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var syncResp SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&syncResp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &syncResp, nil
}
