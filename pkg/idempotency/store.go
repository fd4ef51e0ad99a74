package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecordNotFound is returned when completing a key that was never acquired
var ErrRecordNotFound = errors.New("idempotency record not found")

// Store persists idempotency records. Acquire must be atomic per
// (serviceID, key).
type Store interface {
	// Acquire locks the key, creating the record if needed. The boolean is
	// true when the record was created by this call.
	Acquire(ctx context.Context, record *Record) (*Record, bool, error)

	// Complete stores the response and marks the record completed
	Complete(ctx context.Context, serviceID, key string, code int, body []byte, headers map[string]string) error

	// Release drops an uncompleted record so the key can be retried
	Release(ctx context.Context, serviceID, key string) error
}

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func storeKey(serviceID, key string) string {
	return serviceID + "/" + key
}

func (s *MemoryStore) Acquire(ctx context.Context, record *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	k := storeKey(record.ServiceID, record.Key)

	existing, ok := s.records[k]
	if ok && now.After(existing.ExpiresAt) {
		delete(s.records, k)
		ok = false
	}
	if ok {
		found := *existing
		return &found, false, nil
	}

	stored := *record
	stored.LockedAt = &now
	s.records[k] = &stored

	result := stored
	return &result, true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, serviceID, key string, code int, body []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[storeKey(serviceID, key)]
	if !ok {
		return ErrRecordNotFound
	}

	now := s.now().UTC()
	record.ResponseCode = code
	record.ResponseBody = append([]byte(nil), body...)
	record.ResponseHeaders = headers
	record.CompletedAt = &now
	record.LockedAt = nil
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, serviceID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(serviceID, key)
	if record, ok := s.records[k]; ok && !record.IsCompleted() {
		delete(s.records, k)
	}
	return nil
}
