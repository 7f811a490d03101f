package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// MockWhiteboardClient is an in-memory WhiteboardClient for testing.
// FailNext scripts transient failures so retry paths can be exercised.
type MockWhiteboardClient struct {
	mu    sync.Mutex
	items map[string]*domain.WhiteboardItem
	seq   int

	failuresLeft int
	failErr      error

	// Call counters
	CreateCalls int
	GetCalls    int
	UpdateCalls int
	DeleteCalls int

	// Optional hook invoked at the start of every call (for hang simulation)
	OnCall func(ctx context.Context) error
}

// NewMockWhiteboardClient creates a new MockWhiteboardClient
func NewMockWhiteboardClient() *MockWhiteboardClient {
	return &MockWhiteboardClient{
		items: make(map[string]*domain.WhiteboardItem),
	}
}

// FailNext makes the next n calls return err.
func (m *MockWhiteboardClient) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresLeft = n
	m.failErr = err
}

func (m *MockWhiteboardClient) checkFail(ctx context.Context) error {
	if m.OnCall != nil {
		if err := m.OnCall(ctx); err != nil {
			return err
		}
	}
	if m.failuresLeft > 0 {
		m.failuresLeft--
		return m.failErr
	}
	return nil
}

func itemKey(boardID, itemID string) string {
	return boardID + "/" + itemID
}

func (m *MockWhiteboardClient) CreateItem(ctx context.Context, boardID string, item *domain.WhiteboardItem) (*domain.WhiteboardItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if err := m.checkFail(ctx); err != nil {
		return nil, err
	}
	m.seq++
	created := *item
	created.ID = fmt.Sprintf("item-%d", m.seq)
	created.BoardID = boardID
	m.items[itemKey(boardID, created.ID)] = &created
	result := created
	return &result, nil
}

func (m *MockWhiteboardClient) GetItem(ctx context.Context, boardID, itemID string) (*domain.WhiteboardItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if err := m.checkFail(ctx); err != nil {
		return nil, err
	}
	item, ok := m.items[itemKey(boardID, itemID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	result := *item
	return &result, nil
}

func (m *MockWhiteboardClient) UpdateItem(ctx context.Context, boardID, itemID string, item *domain.WhiteboardItem) (*domain.WhiteboardItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if err := m.checkFail(ctx); err != nil {
		return nil, err
	}
	existing, ok := m.items[itemKey(boardID, itemID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	existing.Title = item.Title
	existing.Description = item.Description
	existing.Status = item.Status
	result := *existing
	return &result, nil
}

func (m *MockWhiteboardClient) DeleteItem(ctx context.Context, boardID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if err := m.checkFail(ctx); err != nil {
		return err
	}
	delete(m.items, itemKey(boardID, itemID))
	return nil
}

func (m *MockWhiteboardClient) Ping(ctx context.Context) error {
	return nil
}

// Helper methods for testing

// ItemCount returns the number of items on all boards
func (m *MockWhiteboardClient) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Item returns a stored item or nil
func (m *MockWhiteboardClient) Item(boardID, itemID string) *domain.WhiteboardItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemKey(boardID, itemID)]
	if !ok {
		return nil
	}
	result := *item
	return &result
}
