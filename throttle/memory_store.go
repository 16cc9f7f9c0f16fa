package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Expiry is applied lazily by
// the Throttle on read.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ RecordStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Load(_ context.Context, identifier string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[identifier]
	return r, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, r Record, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Identifier] = r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identifier)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
