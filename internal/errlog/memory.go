package errlog

import (
	"context"
	"sync"
)

// MemoryStore is an in-process [Store] used in tests and in deployments that
// run without a database.
type MemoryStore struct {
	mu   sync.Mutex
	recs []Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores rec in memory.
func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

// Recent returns the newest records for a session, newest first.
func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.recs[i].SessionID == sessionID {
			out = append(out, s.recs[i])
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}
