package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// MockProjectStore is an in-memory ProjectStore for testing.
// ClaimForSync is CAS-faithful: under the store mutex exactly one caller
// can move a project into syncing, mirroring the conditional UPDATE.
type MockProjectStore struct {
	mu       sync.RWMutex
	projects map[string]*domain.Project

	// Error injection
	GetErr    error
	CreateErr error
	UpdateErr error
	ClaimErr  error
	MarkErr   error
}

// NewMockProjectStore creates a new MockProjectStore
func NewMockProjectStore() *MockProjectStore {
	return &MockProjectStore{
		projects: make(map[string]*domain.Project),
	}
}

func copyProject(p *domain.Project) *domain.Project {
	cp := *p
	return &cp
}

func (m *MockProjectStore) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyProject(p), nil
}

func (m *MockProjectStore) List(ctx context.Context) ([]*domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Project
	for _, p := range m.projects {
		result = append(result, copyProject(p))
	}
	return result, nil
}

func (m *MockProjectStore) Create(ctx context.Context, project *domain.Project) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[project.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.projects[project.ID] = copyProject(project)
	return nil
}

func (m *MockProjectStore) Update(ctx context.Context, project *domain.Project) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[project.ID]; !ok {
		return domain.ErrNotFound
	}
	project.UpdatedAt = time.Now()
	m.projects[project.ID] = copyProject(project)
	return nil
}

func (m *MockProjectStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *MockProjectStore) Archive(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.ProjectStatusArchived
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MockProjectStore) UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(p.SyncStatus, status) {
		return domain.ErrInvalidTransition
	}
	p.SyncStatus = status
	if status == domain.SyncStatusSynced {
		p.SyncRetryCount = 0
		p.SyncErrorMessage = nil
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MockProjectStore) ClaimForSync(ctx context.Context, id string, maxRetries int) (*domain.Project, error) {
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.SyncStatus != domain.SyncStatusPending && p.SyncStatus != domain.SyncStatusError {
		return nil, domain.ErrSyncInProgress
	}
	if p.SyncStatus == domain.SyncStatusError && maxRetries > 0 && p.SyncRetryCount >= maxRetries {
		return nil, domain.ErrRetriesExhausted
	}
	now := time.Now()
	p.SyncStatus = domain.SyncStatusSyncing
	p.LastSyncAttempt = &now
	p.UpdatedAt = now
	return copyProject(p), nil
}

func (m *MockProjectStore) MarkSynced(ctx context.Context, id string, refs domain.ExternalRefs, at time.Time) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SyncStatus = domain.SyncStatusSynced
	p.SyncRetryCount = 0
	p.SyncErrorMessage = nil
	p.LastSyncedAt = &at
	if refs.BoardID != nil {
		p.BoardID = refs.BoardID
	}
	if refs.CardID != nil {
		p.CardID = refs.CardID
	}
	if refs.FrameID != nil {
		p.FrameID = refs.FrameID
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MockProjectStore) MarkSyncError(ctx context.Context, id string, message string) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SyncStatus = domain.SyncStatusError
	p.SyncRetryCount++
	p.SyncErrorMessage = &message
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MockProjectStore) ClearExternalReferences(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.BoardID = nil
	p.CardID = nil
	p.FrameID = nil
	p.SyncStatus = domain.SyncStatusNotRequired
	p.SyncErrorMessage = nil
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MockProjectStore) ListNeedingSync(ctx context.Context, maxRetries int) ([]*domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Project
	for _, p := range m.projects {
		if p.NeedsSync(maxRetries) {
			result = append(result, copyProject(p))
		}
	}
	// Oldest attempt first, never-attempted first
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if olderAttempt(result[j], result[i]) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func olderAttempt(a, b *domain.Project) bool {
	if a.LastSyncAttempt == nil {
		return b.LastSyncAttempt != nil
	}
	if b.LastSyncAttempt == nil {
		return false
	}
	return a.LastSyncAttempt.Before(*b.LastSyncAttempt)
}

func (m *MockProjectStore) GetSyncHealthMetrics(ctx context.Context) (*domain.SyncHealthMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := &domain.SyncHealthMetrics{}
	var retrySum int64
	var lastErrorAt time.Time
	for _, p := range m.projects {
		metrics.TotalProjects++
		retrySum += int64(p.SyncRetryCount)
		switch p.SyncStatus {
		case domain.SyncStatusSynced:
			metrics.SyncedCount++
		case domain.SyncStatusPending:
			metrics.PendingCount++
		case domain.SyncStatusSyncing:
			metrics.SyncingCount++
		case domain.SyncStatusError:
			metrics.ErrorCount++
			if p.SyncErrorMessage != nil && p.UpdatedAt.After(lastErrorAt) {
				lastErrorAt = p.UpdatedAt
				msg := *p.SyncErrorMessage
				name := p.Name
				at := p.UpdatedAt
				metrics.LastSyncError = &msg
				metrics.LastErrorProjectName = &name
				metrics.LastErrorAt = &at
			}
		case domain.SyncStatusNotRequired:
			metrics.NotRequiredCount++
		}
	}
	if metrics.TotalProjects == 0 {
		metrics.SyncSuccessRate = 100
	} else {
		metrics.SyncSuccessRate = float64(metrics.SyncedCount) / float64(metrics.TotalProjects) * 100
		metrics.AvgRetryCount = float64(retrySum) / float64(metrics.TotalProjects)
	}
	return metrics, nil
}

// Helper methods for testing

// Put inserts a project directly, bypassing Create semantics
func (m *MockProjectStore) Put(project *domain.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[project.ID] = copyProject(project)
}

// Count returns the number of stored projects
func (m *MockProjectStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.projects)
}
