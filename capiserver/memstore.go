// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capiserver

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and development runs without a
// database DSN. Safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]StoredRecord
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]StoredRecord)}
}

// Get returns the stored record with the given id.
func (s *MemStore) Get(ctx context.Context, id string) (*StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := rec
	return &copied, nil
}

// Put inserts or replaces the stored record.
func (s *MemStore) Put(ctx context.Context, rec *StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	return nil
}

// Len reports how many records the store holds.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
