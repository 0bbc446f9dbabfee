// Package mock provides an in-memory mock implementation of [memory.Store]
// for use in unit tests. Safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxline/voxgate/pkg/memory"
)

// Compile-time assertion that Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// Store is a mock [memory.Store] that keeps entries in a slice.
type Store struct {
	mu sync.Mutex

	// AppendErr is returned by Append after recording the entry.
	AppendErr error

	// Entries holds everything appended, in order.
	Entries []memory.Entry
}

// Append implements [memory.Store].
func (s *Store) Append(_ context.Context, entry memory.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, entry)
	return s.AppendErr
}

// Recent implements [memory.Store].
func (s *Store) Recent(_ context.Context, callID string, window time.Duration) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []memory.Entry
	for _, e := range s.Entries {
		if e.CallID == callID && !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns a copy of every appended entry.
func (s *Store) All() []memory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Entry, len(s.Entries))
	copy(out, s.Entries)
	return out
}
