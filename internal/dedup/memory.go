package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryMarkerStore is an in-process MarkerStore for tests and local runs.
type MemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[string]marker
	now     func() time.Time
}

type marker struct {
	acquiredAt time.Time
	expiresAt  time.Time
}

// NewMemoryMarkerStore creates an empty in-memory marker store.
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{
		markers: make(map[string]marker),
		now:     time.Now,
	}
}

// TrySet implements MarkerStore.
func (s *MemoryMarkerStore) TrySet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if m, ok := s.markers[key]; ok && m.expiresAt.After(now) {
		return false, nil
	}
	s.markers[key] = marker{acquiredAt: now, expiresAt: now.Add(ttl)}
	return true, nil
}

// Age implements MarkerStore.
func (s *MemoryMarkerStore) Age(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m, ok := s.markers[key]
	if !ok || !m.expiresAt.After(now) {
		return 0, false, nil
	}
	return now.Sub(m.acquiredAt), true, nil
}

// Clear implements MarkerStore.
func (s *MemoryMarkerStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, key)
	return nil
}
