// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import "time"

// REST/JSON models for the batch sync protocol. These are shared with the
// server package so both sides serialize the same shapes.

// Server-reported per-record outcomes. Anything outside this set is mapped
// conservatively to a local conflict.
const (
	ServerStatusCreated  = "created"
	ServerStatusUpdated  = "updated"
	ServerStatusConflict = "conflict"
)

// SyncRequest is one batch upload carrying all currently pending records.
type SyncRequest struct {
	Items []SyncItem `json:"items"`
}

// SyncItem is a single record on the wire. The id matches the client-side
// record id; the server keys on it, which makes resubmission idempotent.
type SyncItem struct {
	ID           string     `json:"id"`
	Kind         RecordKind `json:"kind"`
	Payload      Payload    `json:"payload"`
	CreatedAt    time.Time  `json:"created_at"`
	LastModified time.Time  `json:"last_modified"`
}

// SyncResponse is the server's reply: one result per submitted record.
type SyncResponse struct {
	Results []SyncResult `json:"results"`
}

// SyncResult reports the outcome for one submitted record.
type SyncResult struct {
	ID     string `json:"id"`     // echoes the submitted id
	Status string `json:"status"` // "created", "updated" or "conflict"
}

// ErrorResponse is the standardized error body for sync endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// itemFromRecord converts a stored record into its wire representation.
func itemFromRecord(rec *Record) SyncItem {
	return SyncItem{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Payload:      rec.Payload,
		CreatedAt:    rec.CreatedAt,
		LastModified: rec.LastModified,
	}
}
