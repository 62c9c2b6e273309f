// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Cache is the durable response cache shared by the request router. Entries
// are keyed by request URL within a named generation; activating a new
// generation deletes every other one, so exactly one live cache generation
// exists at a time.
type Cache struct {
	db         *sql.DB
	generation string
}

// CachedResponse is a stored copy of an HTTP response.
type CachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Response materializes the cached copy as an *http.Response for req.
func (cr *CachedResponse) Response(req *http.Request) *http.Response {
	header := cr.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        http.StatusText(cr.StatusCode),
		StatusCode:    cr.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cr.Body)),
		ContentLength: int64(len(cr.Body)),
		Request:       req,
	}
}

// OpenCache initializes the cache schema on the given handle. The generation
// tag identifies the current cache version; call Activate to evict the rest.
func OpenCache(db *sql.DB, generation string) (*Cache, error) {
	if generation == "" {
		return nil, errors.New("cache generation must not be empty")
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			generation TEXT NOT NULL,
			url        TEXT NOT NULL,
			status     INTEGER NOT NULL,
			header     TEXT NOT NULL,
			body       BLOB,
			stored_at  TEXT NOT NULL,
			PRIMARY KEY (generation, url)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &Cache{db: db, generation: generation}, nil
}

// Generation returns the cache version tag this handle writes into.
func (c *Cache) Generation() string { return c.generation }

// Activate deletes every cache generation not matching the current tag.
func (c *Cache) Activate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE generation != ?`, c.generation)
	if err != nil {
		return fmt.Errorf("failed to evict stale cache generations: %w", err)
	}
	return nil
}

// Put stores a response copy for the exact request URL, replacing any
// previous entry in the current generation.
func (c *Cache) Put(ctx context.Context, url string, statusCode int, header http.Header, body []byte) error {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal cached headers: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (generation, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation, url) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, c.generation, url, statusCode, string(headerJSON), body,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store cache entry for %s: %w", url, err)
	}
	return nil
}

// Get returns the cached copy for the exact request URL in the current
// generation, or ok=false when there is none.
func (c *Cache) Get(ctx context.Context, url string) (*CachedResponse, bool, error) {
	var status int
	var headerJSON, storedAt string
	var body []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT status, header, body, stored_at FROM cache_entries
		WHERE generation = ? AND url = ?
	`, c.generation, url).Scan(&status, &headerJSON, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry for %s: %w", url, err)
	}

	var header http.Header
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached headers for %s: %w", url, err)
	}
	stored, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse stored_at for %s: %w", url, err)
	}
	return &CachedResponse{StatusCode: status, Header: header, Body: body, StoredAt: stored}, true, nil
}
