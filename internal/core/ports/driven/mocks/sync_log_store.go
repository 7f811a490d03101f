package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// MockSyncLogStore is an in-memory SyncLogStore for testing.
type MockSyncLogStore struct {
	mu      sync.RWMutex
	entries []*domain.SyncLogEntry

	// Error injection
	StartErr    error
	CompleteErr error
}

// NewMockSyncLogStore creates a new MockSyncLogStore
func NewMockSyncLogStore() *MockSyncLogStore {
	return &MockSyncLogStore{}
}

func copyEntry(e *domain.SyncLogEntry) *domain.SyncLogEntry {
	cp := *e
	return &cp
}

func (m *MockSyncLogStore) StartAttempt(ctx context.Context, entry *domain.SyncLogEntry) (string, error) {
	if m.StartErr != nil {
		return "", m.StartErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = domain.GenerateID()
	}
	m.entries = append(m.entries, copyEntry(entry))
	return entry.ID, nil
}

func (m *MockSyncLogStore) CompleteAttempt(ctx context.Context, id string, outcome domain.SyncOutcome) error {
	if m.CompleteErr != nil {
		return m.CompleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.Complete(outcome)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockSyncLogStore) GetByID(ctx context.Context, id string) (*domain.SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			return copyEntry(e), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSyncLogStore) ListRecent(ctx context.Context, projectID *string, limit int) ([]*domain.SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.SyncLogEntry
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		e := m.entries[i]
		if projectID != nil && (e.ProjectID == nil || *e.ProjectID != *projectID) {
			continue
		}
		result = append(result, copyEntry(e))
	}
	return result, nil
}

func (m *MockSyncLogStore) ListFailedForRetry(ctx context.Context, maxRetries, limit int) ([]*domain.SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Latest error entry per project, still below the retry bound
	latest := make(map[string]*domain.SyncLogEntry)
	for _, e := range m.entries {
		if e.Status != domain.SyncLogStatusError || e.ProjectID == nil {
			continue
		}
		latest[*e.ProjectID] = e
	}

	var result []*domain.SyncLogEntry
	for _, e := range latest {
		// RetryCount is the pre-attempt count; the recorded failure put the
		// project at RetryCount+1.
		if e.RetryCount+1 < maxRetries {
			result = append(result, copyEntry(e))
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MockSyncLogStore) GetStats(ctx context.Context, window time.Duration) (*domain.SyncLogStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &domain.SyncLogStats{
		ByStatus:    make(map[domain.SyncLogStatus]int64),
		ByOperation: make(map[domain.SyncOperation]int64),
		ByCategory:  make(map[domain.ErrorCategory]int64),
	}
	cutoff := time.Now().Add(-window)
	var durSum, durCount int64
	for _, e := range m.entries {
		if window > 0 && e.StartedAt.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByStatus[e.Status]++
		stats.ByOperation[e.Operation]++
		if e.ErrorCategory != "" {
			stats.ByCategory[e.ErrorCategory]++
		}
		if e.DurationMs != nil {
			durSum += *e.DurationMs
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgDurationMs = float64(durSum) / float64(durCount)
	}
	return stats, nil
}

// Helper methods for testing

// Entries returns a snapshot of all log entries in insertion order
func (m *MockSyncLogStore) Entries() []*domain.SyncLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.SyncLogEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, copyEntry(e))
	}
	return result
}

// CountByStatus returns how many entries hold the given status
func (m *MockSyncLogStore) CountByStatus(status domain.SyncLogStatus) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Status == status {
			n++
		}
	}
	return n
}
