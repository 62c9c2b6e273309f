// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

// Package capisync implements the offline-first synchronization engine for
// SmartCAPI field devices: a durable SQLite queue of unsent records, a
// connectivity monitor, a batch-sync orchestrator, a background trigger
// registrar and a cache-policy request router.
package capisync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by SetStatus when no record with the given id exists.
var ErrNotFound = errors.New("record not found")

// Store is the durable local record store. Records are keyed by their
// client-generated id with a non-unique index over sync_status so the
// orchestrator can cheaply enumerate pending work.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (or creates) the record database at path and initializes
// the schema. Open or schema failures are surfaced to the caller; losing a
// record before it is durably stored defeats the offline-first guarantee.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	store, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing SQLite handle and initializes the record schema.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeSchema(db); err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// initializeSchema creates the records table and the sync_status index.
func initializeSchema(db *sql.DB) error {
	// WAL keeps writers from blocking the orchestrator's enumeration.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id            TEXT NOT NULL,
			kind          TEXT NOT NULL,
			payload       TEXT NOT NULL,
			sync_status   TEXT NOT NULL CHECK (sync_status IN ('pending','synced','conflict')),
			created_at    TEXT NOT NULL,
			last_modified TEXT NOT NULL,
			PRIMARY KEY (id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_sync_status ON records (sync_status)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create records schema: %w", err)
		}
	}
	return nil
}

// Put inserts or fully replaces the record with this id. There are no
// partial-field update semantics; callers read-modify-write. The upsert is a
// single statement, so a concurrent enumeration never observes a half-written
// record.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	if !rec.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync status %q", rec.SyncStatus)
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for record %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, kind, payload, sync_status, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			last_modified = excluded.last_modified
	`, rec.ID, string(rec.Kind), string(payload), string(rec.SyncStatus),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.LastModified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to persist record %s: %w", rec.ID, err)
	}
	return nil
}

// GetPending returns all records with sync_status = pending. Callers must not
// assume ordering is stable across calls.
func (s *Store) GetPending(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, sync_status, created_at, last_modified
		FROM records WHERE sync_status = ?
	`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	var pending []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending records: %w", err)
	}
	return pending, nil
}

// Get returns the record with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, sync_status, created_at, last_modified
		FROM records WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// SetStatus atomically updates sync_status and last_modified for one record.
// Returns ErrNotFound when no record with that id exists.
func (s *Store) SetStatus(ctx context.Context, id string, status SyncStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid sync status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET sync_status = ?, last_modified = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update status for record %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for record %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle so the durable cache can share it.
func (s *Store) DB() *sql.DB { return s.db }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var kind, payload, status, createdAt, lastModified string
	if err := row.Scan(&rec.ID, &kind, &payload, &status, &createdAt, &lastModified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Kind = RecordKind(kind)
	rec.SyncStatus = SyncStatus(status)
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for record %s: %w", rec.ID, err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for record %s: %w", rec.ID, err)
	}
	if rec.LastModified, err = time.Parse(time.RFC3339Nano, lastModified); err != nil {
		return nil, fmt.Errorf("failed to parse last_modified for record %s: %w", rec.ID, err)
	}
	return &rec, nil
}
