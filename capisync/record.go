// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks where a locally captured record is in its sync lifecycle.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"  // captured locally, not yet confirmed by the server
	StatusSynced   SyncStatus = "synced"   // server confirmed created or updated
	StatusConflict SyncStatus = "conflict" // server could not apply as-is; needs manual resolution
)

// Valid reports whether s is one of the known sync statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusConflict:
		return true
	}
	return false
}

// RecordKind identifies which capture workflow produced a record.
type RecordKind string

const (
	KindTranscript        RecordKind = "transcript"         // a transcript fragment from an interview session
	KindInterview         RecordKind = "interview"          // a completed interview with form answers
	KindVoiceRegistration RecordKind = "voice_registration" // an enumerator voice-enrollment sample
)

// Payload carries the domain fields of a record. Which fields are populated
// depends on the record kind; unused fields are omitted on the wire.
type Payload struct {
	InterviewCode string          `json:"interview_code,omitempty"`
	EnumeratorID  string          `json:"enumerator_id,omitempty"`
	RespondentID  string          `json:"respondent_id,omitempty"`
	Text          string          `json:"text,omitempty"`
	SpeakerLabel  string          `json:"speaker_label,omitempty"`
	SegmentStart  float64         `json:"segment_start,omitempty"`
	SegmentEnd    float64         `json:"segment_end,omitempty"`
	Answers       json.RawMessage `json:"answers,omitempty"`

	// Audio fields for voice registration and recorded interviews.
	AudioBase64     string  `json:"audio_base64,omitempty"`
	AudioFilename   string  `json:"audio_filename,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Record is one unit of field-collected data. The ID is assigned client-side
// at creation and never reused, which makes retried sync attempts idempotent
// from the server's point of view.
type Record struct {
	ID           string     `json:"id"`
	Kind         RecordKind `json:"kind"`
	Payload      Payload    `json:"payload"`
	SyncStatus   SyncStatus `json:"sync_status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastModified time.Time  `json:"last_modified"`
}

// NewRecord builds a pending record with a fresh UUIDv4 id and client-clock
// timestamps. The record is not durable until it has been Put into a Store.
func NewRecord(kind RecordKind, payload Payload) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:           uuid.New().String(),
		Kind:         kind,
		Payload:      payload,
		SyncStatus:   StatusPending,
		CreatedAt:    now,
		LastModified: now,
	}
}
