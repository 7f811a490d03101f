package driven

import (
	"context"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// WhiteboardClient talks to the external whiteboard service.
// Treated as an unreliable remote peer: every call is fallible, enforces no
// timeout of its own, and may silently no-op. The orchestrator wraps each
// call with its own deadline.
type WhiteboardClient interface {
	// CreateItem creates a card or frame on the board
	CreateItem(ctx context.Context, boardID string, item *domain.WhiteboardItem) (*domain.WhiteboardItem, error)

	// GetItem fetches an item by external id. Returns domain.ErrNotFound
	// when the item no longer exists on the board.
	GetItem(ctx context.Context, boardID, itemID string) (*domain.WhiteboardItem, error)

	// UpdateItem replaces the visible fields of an item
	UpdateItem(ctx context.Context, boardID, itemID string, item *domain.WhiteboardItem) (*domain.WhiteboardItem, error)

	// DeleteItem removes an item from the board
	DeleteItem(ctx context.Context, boardID, itemID string) error

	// Ping checks whether the whiteboard API is reachable
	Ping(ctx context.Context) error
}
