package services

import (
	"sync"
	"time"
)

// suppressionList tracks recently synced project ids for a short window so a
// single logical change arriving via both a domain event and a change-feed
// echo does not trigger two external calls.
//
// Best-effort and per-process only: correctness comes from the DB-level
// claim, never from this cache.
type suppressionList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	clock   func() time.Time
}

func newSuppressionList(window time.Duration) *suppressionList {
	return &suppressionList{
		entries: make(map[string]time.Time),
		window:  window,
		clock:   time.Now,
	}
}

// Add records a project id; lookups suppress it until the window elapses.
func (s *suppressionList) Add(projectID string) {
	if s.window <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[projectID] = s.clock().Add(s.window)
	// Opportunistic prune keeps the map from growing with churn.
	if len(s.entries) > 1024 {
		now := s.clock()
		for id, expiry := range s.entries {
			if now.After(expiry) {
				delete(s.entries, id)
			}
		}
	}
}

// Contains reports whether the project id is inside its suppression window.
func (s *suppressionList) Contains(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[projectID]
	if !ok {
		return false
	}
	if s.clock().After(expiry) {
		delete(s.entries, projectID)
		return false
	}
	return true
}
