package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryProfileStore is a simple in-process profile store for local/dev
// use and tests. Profiles do not survive a restart.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[string]Profile)}
}

func (s *InMemoryProfileStore) Get(_ context.Context, userID string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, false, nil
	}
	return p.Clone(), true, nil
}

func (s *InMemoryProfileStore) Put(_ context.Context, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

func (s *InMemoryProfileStore) Close() error { return nil }
