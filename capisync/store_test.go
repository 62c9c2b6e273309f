// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
)

func TestStorePutAndGetPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := NewRecord(KindTranscript, Payload{
		InterviewCode: "INT-001",
		Text:          "respondent confirms household size of four",
		SpeakerLabel:  "respondent",
	})
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	pending, err := store.GetPending(ctx)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(pending))
	}
	if pending[0].ID != rec.ID {
		t.Fatalf("expected id %s, got %s", rec.ID, pending[0].ID)
	}
	if pending[0].Payload.Text != rec.Payload.Text {
		t.Fatalf("payload round trip mismatch: %q", pending[0].Payload.Text)
	}
}

func TestStorePutReplacesWholeRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := NewRecord(KindInterview, Payload{InterviewCode: "INT-002"})
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	// No partial-field update semantics: read-modify-write replaces everything.
	rec.Payload.EnumeratorID = "enum-7"
	rec.Payload.Answers = []byte(`{"q1":"yes"}`)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put replace: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload.EnumeratorID != "enum-7" {
		t.Fatalf("expected replaced payload, got %+v", got.Payload)
	}
	pending, err := store.GetPending(ctx)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("replace must not duplicate, got %d pending", len(pending))
	}
}

func TestStoreSetStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := NewRecord(KindVoiceRegistration, Payload{
		EnumeratorID:    "enum-3",
		AudioBase64:     "UklGRg==",
		AudioFilename:   "enroll_enum-3.wav",
		DurationSeconds: 182.4,
	})
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := store.SetStatus(ctx, rec.ID, StatusSynced); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncStatus != StatusSynced {
		t.Fatalf("expected synced, got %s", got.SyncStatus)
	}
	if !got.LastModified.After(rec.LastModified) {
		t.Fatalf("last_modified must advance on status change")
	}

	// Synced records are invisible to the orchestrator.
	pending, err := store.GetPending(ctx)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending records, got %d", len(pending))
	}
}

func TestStoreSetStatusNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.SetStatus(context.Background(), "no-such-id", StatusSynced)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSetStatusRejectsUnknownStatus(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetStatus(context.Background(), "x", SyncStatus("accepted")); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

// A durability failure must surface to the caller: the record is not
// considered submitted and the orchestrator never sees it.
func TestStoreDurabilityFailureSurfaces(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := NewStore(db, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	db.Close()

	rec := NewRecord(KindTranscript, Payload{Text: "lost?"})
	if err := store.Put(context.Background(), rec); err == nil {
		t.Fatal("expected put against closed store to fail")
	}
	if _, err := store.GetPending(context.Background()); err == nil {
		t.Fatal("expected enumeration against closed store to fail")
	}
}
