// File: storage/storage.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"phe-toolkit/models"
)

// ErrNotFound is returned by Read when no record exists under a handle.
var ErrNotFound = errors.New("key record not found")

// MemoryKeyStore keeps records in memory. Records are stored serialized, so
// callers never share a record with the store.
type MemoryKeyStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	locks   handleLocks
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		records: make(map[string][]byte),
	}
}

func (s *MemoryKeyStore) Exists(handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[handle]
	return ok, nil
}

func (s *MemoryKeyStore) Read(handle string) (*models.KeyRecord, error) {
	s.mu.RLock()
	data, ok := s.records[handle]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	var rec models.KeyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key record %s: %v", handle, err)
	}
	return &rec, nil
}

func (s *MemoryKeyStore) Write(handle string, record *models.KeyRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save empty key record")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal key record: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[handle] = data
	return nil
}

func (s *MemoryKeyStore) Lock(handle string) (func() error, error) {
	return s.locks.lock(handle), nil
}

// Handles lists stored handles in order.
func (s *MemoryKeyStore) Handles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := make([]string, 0, len(s.records))
	for h := range s.records {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}

// handleLocks hands out one mutex per handle.
type handleLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *handleLocks) lock(handle string) func() error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[handle]
	if !ok {
		m = new(sync.Mutex)
		l.locks[handle] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() error {
		m.Unlock()
		return nil
	}
}
