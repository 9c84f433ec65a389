package filter

import "sync"

// Safe wraps a *CuckooFilter with a sync.RWMutex, providing the external
// mutual exclusion the core explicitly leaves to its caller (every
// BucketTable operation assumes either a single writer or a
// reader-writer lock held by someone else). This mirrors the teacher's
// Store.View/Store.Mutate discipline: mutating operations take the write
// lock, read-only operations take the read lock, and nothing in this
// package ever holds a lock across a blocking call.
type Safe struct {
	mu     sync.RWMutex
	filter *CuckooFilter
}

// NewSafe wraps filter for concurrent use. filter must not be used
// directly by any other goroutine once wrapped.
func NewSafe(filter *CuckooFilter) (*Safe, error) {
	if filter == nil {
		return nil, errNilFilter
	}
	return &Safe{filter: filter}, nil
}

// Put acquires the write lock and inserts item.
func (s *Safe) Put(item []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Put(item)
}

// Delete acquires the write lock and removes one occurrence of item's
// fingerprint.
func (s *Safe) Delete(item []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Delete(item)
}

// PutAll acquires the write lock and merges other into the wrapped
// filter. other is read without locking; if it is also wrapped by a
// Safe, the caller must not mutate it concurrently from elsewhere.
func (s *Safe) PutAll(other *CuckooFilter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.PutAll(other)
}

// MightContain acquires the read lock and checks membership.
func (s *Safe) MightContain(item []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.MightContain(item)
}

// Equivalent acquires the read lock and compares against other.
func (s *Safe) Equivalent(other *CuckooFilter) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.Equivalent(other)
}

// View runs fn with the read lock held, giving callers access to
// observational accessors (Size, Capacity, Load, ExpectedFPP, BitSize)
// or a consistent combination of several without interleaved mutation.
func (s *Safe) View(fn func(f *CuckooFilter)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.filter)
}

// Mutate runs fn with the write lock held, for callers that need to
// combine multiple mutating calls (e.g. a conditional Put) atomically.
func (s *Safe) Mutate(fn func(f *CuckooFilter)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.filter)
}

// Snapshot acquires the read lock and returns the encoded form of the
// wrapped filter.
func (s *Safe) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Encode(s.filter)
}
