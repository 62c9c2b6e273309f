// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

// Package capiserver implements the central side of the SmartCAPI batch sync
// protocol: the /api/sync endpoint that resolves each submitted record to a
// created/updated/conflict outcome, plus health and metrics endpoints.
package capiserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by Store.Get when no record exists.
var ErrRecordNotFound = errors.New("server record not found")

// StoredRecord is the server-side copy of a synced record. Keyed by the
// client-generated id, which is what makes resubmission idempotent.
type StoredRecord struct {
	ID           string
	EnumeratorID string
	Kind         string
	Payload      json.RawMessage
	LastModified time.Time
	ReceivedAt   time.Time
}

// Store is the server-side record storage. Production deployments use
// PGStore; MemStore backs tests and DSN-less development runs.
type Store interface {
	// Get returns the stored record with the given id, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*StoredRecord, error)
	// Put inserts or replaces the stored record.
	Put(ctx context.Context, rec *StoredRecord) error
}
