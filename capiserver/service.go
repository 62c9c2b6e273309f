// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/preventioid-id/mysmartcapi/capisync"
	"github.com/preventioid-id/mysmartcapi/internal/auth"
)

// SyncService resolves one batch of submitted records to per-record outcomes.
//
// Outcome rule per record id:
//   - id absent on the server                      -> "created"
//   - present, submitted copy not older than ours  -> "updated" (idempotent)
//   - present, stored copy strictly newer          -> "conflict"
type SyncService struct {
	store  Store
	logger *slog.Logger
}

// NewSyncService creates the batch processor.
func NewSyncService(store Store, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{store: store, logger: logger}
}

// ProcessBatch resolves every submitted item, storing accepted copies keyed
// by the client-generated id. One result is returned per submitted item; a
// storage error aborts the batch so the client retries it whole.
func (s *SyncService) ProcessBatch(ctx context.Context, enumeratorID string, req *capisync.SyncRequest) (*capisync.SyncResponse, error) {
	start := time.Now()
	resp := &capisync.SyncResponse{Results: make([]capisync.SyncResult, 0, len(req.Items))}

	for i := range req.Items {
		item := &req.Items[i]
		if item.ID == "" {
			return nil, fmt.Errorf("item %d has no id", i)
		}
		status, err := s.resolveItem(ctx, enumeratorID, item)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve record %s: %w", item.ID, err)
		}
		recordResult(status)
		resp.Results = append(resp.Results, capisync.SyncResult{ID: item.ID, Status: status})
	}

	observeBatch(time.Since(start))
	deviceID, _ := auth.GetDeviceID(ctx)
	s.logger.Info("processed sync batch",
		"enumerator_id", enumeratorID, "device_id", deviceID,
		"items", len(req.Items), "duration", time.Since(start))
	return resp, nil
}

// resolveItem applies the outcome rule for a single record.
func (s *SyncService) resolveItem(ctx context.Context, enumeratorID string, item *capisync.SyncItem) (string, error) {
	existing, err := s.store.Get(ctx, item.ID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		if err := s.store.Put(ctx, storedFromItem(enumeratorID, item)); err != nil {
			return "", err
		}
		return capisync.ServerStatusCreated, nil
	case err != nil:
		return "", err
	}

	if existing.LastModified.After(item.LastModified) {
		// The stored copy is strictly newer: cannot apply as-is. The client
		// surfaces this for manual resolution and never auto-retries it.
		s.logger.Warn("record conflict",
			"record_id", item.ID,
			"stored_last_modified", existing.LastModified,
			"submitted_last_modified", item.LastModified)
		return capisync.ServerStatusConflict, nil
	}

	if err := s.store.Put(ctx, storedFromItem(enumeratorID, item)); err != nil {
		return "", err
	}
	return capisync.ServerStatusUpdated, nil
}

func storedFromItem(enumeratorID string, item *capisync.SyncItem) *StoredRecord {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		// Payload came off the wire as JSON already; re-marshal cannot fail.
		payload = []byte("{}")
	}
	return &StoredRecord{
		ID:           item.ID,
		EnumeratorID: enumeratorID,
		Kind:         string(item.Kind),
		Payload:      payload,
		LastModified: item.LastModified,
		ReceivedAt:   time.Now().UTC(),
	}
}
