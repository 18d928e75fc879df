package journal

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quantfall/arbengine/types"
)

// MemoryStore is the in-process Store used for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	results []*types.ExecutionResult
	seen    map[uuid.UUID]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[uuid.UUID]struct{})}
}

// Record appends one result. Returns ErrDuplicate for a repeated bundle ID.
func (s *MemoryStore) Record(_ context.Context, res *types.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[res.BundleID]; dup {
		return ErrDuplicate
	}
	s.seen[res.BundleID] = struct{}{}

	clone := *res
	s.results = append(s.results, &clone)
	return nil
}

// Recent returns up to limit results, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]*types.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.results)
	if limit > n {
		limit = n
	}
	out := make([]*types.ExecutionResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		clone := *s.results[i]
		out = append(out, &clone)
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}
