// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(v any) *http.Response {
	body, _ := json.Marshal(v)
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func statusResponse(code int, body string) *http.Response {
	return &http.Response{
		Status:        http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func newTestOrchestrator(t *testing.T, store *Store, rt roundTripFunc) *Orchestrator {
	t.Helper()
	return NewOrchestrator(store, "http://device.local", nil,
		WithHTTPClient(&http.Client{Transport: rt}))
}
