package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process [Store] for tests and deployments without
// Redis.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]*Batch
	subs    map[string][]Submission
	cursors map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string]*Batch),
		subs:    make(map[string][]Submission),
		cursors: make(map[string]int),
	}
}

// SaveBatch replaces the session's active word batch.
func (s *MemoryStore) SaveBatch(_ context.Context, sessionID string, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *batch
	s.batches[sessionID] = &cp
	return nil
}

// GetBatch returns the session's active batch, or (nil, nil) when absent.
func (s *MemoryStore) GetBatch(_ context.Context, sessionID string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

// SaveSubmission prepends sub to the session's history.
func (s *MemoryStore) SaveSubmission(_ context.Context, sub *Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.SessionID] = append([]Submission{*sub}, s.subs[sub.SessionID]...)
	return nil
}

// Submissions returns the newest submissions, newest first.
func (s *MemoryStore) Submissions(_ context.Context, sessionID string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[sessionID]
	if len(subs) > limit {
		subs = subs[:limit]
	}
	out := make([]Submission, len(subs))
	copy(out, subs)
	return out, nil
}

// Cursor returns the session's progress cursor, zero when unset.
func (s *MemoryStore) Cursor(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[sessionID], nil
}

// AdvanceCursor increments the progress cursor and returns the new value.
func (s *MemoryStore) AdvanceCursor(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[sessionID]++
	return s.cursors[sessionID], nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
