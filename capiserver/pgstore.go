// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capiserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL-backed server record store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore initializes the schema on the given pool and returns the store.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS capi_records (
			id            TEXT PRIMARY KEY,
			enumerator_id TEXT NOT NULL DEFAULT '',
			kind          TEXT NOT NULL,
			payload       JSONB NOT NULL,
			last_modified TIMESTAMPTZ NOT NULL,
			received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capi_records schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Get returns the stored record with the given id.
func (s *PGStore) Get(ctx context.Context, id string) (*StoredRecord, error) {
	var rec StoredRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, enumerator_id, kind, payload, last_modified, received_at
		FROM capi_records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.EnumeratorID, &rec.Kind, &rec.Payload, &rec.LastModified, &rec.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record %s: %w", id, err)
	}
	return &rec, nil
}

// Put inserts or replaces the stored record.
func (s *PGStore) Put(ctx context.Context, rec *StoredRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO capi_records (id, enumerator_id, kind, payload, last_modified, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			enumerator_id = EXCLUDED.enumerator_id,
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			last_modified = EXCLUDED.last_modified,
			received_at = EXCLUDED.received_at
	`, rec.ID, rec.EnumeratorID, rec.Kind, rec.Payload, rec.LastModified, rec.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}
	return nil
}
