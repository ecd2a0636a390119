package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Store owns the table of active session memories. Sessions are created
// lazily on first turn and evicted by the janitor after the inactivity TTL.
// Construction and teardown are explicit so tests can inject their own
// store instead of sharing process-wide state.
type Store struct {
	mu            sync.RWMutex
	sessions      map[string]*Memory
	thresholds    Thresholds
	inactivityTTL time.Duration
	onEvict       func(Snapshot)
}

func NewStore(thresholds Thresholds, inactivityTTL time.Duration) *Store {
	if inactivityTTL <= 0 {
		inactivityTTL = 30 * time.Minute
	}
	return &Store{
		sessions:      make(map[string]*Memory),
		thresholds:    thresholds,
		inactivityTTL: inactivityTTL,
	}
}

// SetEvictHook registers a callback invoked with a final snapshot whenever
// the janitor drops an inactive session.
func (s *Store) SetEvictHook(hook func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = hook
}

// GetOrCreate returns the memory for sessionID, creating it on first use.
// An unknown session id is a new session, never an error.
func (s *Store) GetOrCreate(sessionID, userID string) (*Memory, bool) {
	s.mu.RLock()
	mem, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return mem, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mem, ok := s.sessions[sessionID]; ok {
		return mem, false
	}
	mem = NewMemory(sessionID, userID, s.thresholds)
	s.sessions[sessionID] = mem
	return mem, true
}

func (s *Store) Get(sessionID string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return mem, nil
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartJanitor evicts inactive sessions until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictInactive()
			}
		}
	}()
}

func (s *Store) evictInactive() {
	now := time.Now().UTC()
	var evicted []Snapshot

	s.mu.Lock()
	for id, mem := range s.sessions {
		if now.Sub(mem.LastActivity()) < s.inactivityTTL {
			continue
		}
		evicted = append(evicted, mem.Snapshot(0))
		delete(s.sessions, id)
	}
	hook := s.onEvict
	s.mu.Unlock()

	if hook != nil {
		for _, snap := range evicted {
			hook(snap)
		}
	}
}
