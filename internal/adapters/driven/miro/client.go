package miro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.WhiteboardClient = (*Client)(nil)

// Client talks to the Miro REST API.
// All calls go through a circuit breaker: once the board API starts failing
// consistently, calls fail fast instead of burning the per-attempt deadline.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new Miro API client.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.miro.com"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "miro",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 404 is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
	})

	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		breaker:    breaker,
	}
}

// itemData is the wire shape of a card or frame payload.
type itemData struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// itemEnvelope is the request and response body for item operations.
type itemEnvelope struct {
	ID   string   `json:"id,omitempty"`
	Type string   `json:"type,omitempty"`
	Data itemData `json:"data"`
}

func toEnvelope(item *domain.WhiteboardItem) itemEnvelope {
	return itemEnvelope{
		Data: itemData{
			Title:       item.Title,
			Description: item.Description,
			Status:      item.Status,
		},
	}
}

func fromEnvelope(env itemEnvelope, boardID string) *domain.WhiteboardItem {
	itemType := domain.WhiteboardItemCard
	if env.Type == "frame" {
		itemType = domain.WhiteboardItemFrame
	}
	return &domain.WhiteboardItem{
		ID:          env.ID,
		BoardID:     boardID,
		Type:        itemType,
		Title:       env.Data.Title,
		Description: env.Data.Description,
		Status:      env.Data.Status,
	}
}

// collectionPath picks the REST collection for an item type.
func collectionPath(boardID string, itemType domain.WhiteboardItemType) string {
	if itemType == domain.WhiteboardItemFrame {
		return fmt.Sprintf("/v2/boards/%s/frames", boardID)
	}
	return fmt.Sprintf("/v2/boards/%s/cards", boardID)
}

// CreateItem creates a card or frame on the board.
func (c *Client) CreateItem(ctx context.Context, boardID string, item *domain.WhiteboardItem) (*domain.WhiteboardItem, error) {
	var env itemEnvelope
	err := c.doJSON(ctx, http.MethodPost, collectionPath(boardID, item.Type), toEnvelope(item), &env)
	if err != nil {
		return nil, err
	}
	created := fromEnvelope(env, boardID)
	created.Type = item.Type
	return created, nil
}

// GetItem fetches an item by id. Returns domain.ErrNotFound when the item
// no longer exists on the board.
func (c *Client) GetItem(ctx context.Context, boardID, itemID string) (*domain.WhiteboardItem, error) {
	path := fmt.Sprintf("/v2/boards/%s/items/%s", boardID, itemID)
	var env itemEnvelope
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return fromEnvelope(env, boardID), nil
}

// UpdateItem replaces the visible fields of an item.
func (c *Client) UpdateItem(ctx context.Context, boardID, itemID string, item *domain.WhiteboardItem) (*domain.WhiteboardItem, error) {
	path := fmt.Sprintf("%s/%s", collectionPath(boardID, item.Type), itemID)
	var env itemEnvelope
	if err := c.doJSON(ctx, http.MethodPatch, path, toEnvelope(item), &env); err != nil {
		return nil, err
	}
	updated := fromEnvelope(env, boardID)
	updated.Type = item.Type
	return updated, nil
}

// DeleteItem removes an item from the board.
func (c *Client) DeleteItem(ctx context.Context, boardID, itemID string) error {
	path := fmt.Sprintf("/v2/boards/%s/items/%s", boardID, itemID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Ping checks whether the whiteboard API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/v2/boards?limit=1", nil, nil)
}

// doJSON performs an authenticated request through the circuit breaker and
// decodes the response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, domain.ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			respBody, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("whiteboard api 429 too many requests: %s", string(respBody))
		case resp.StatusCode >= 400:
			respBody, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("whiteboard api error %d: %s", resp.StatusCode, string(respBody))
		}

		if out == nil {
			return nil, nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if out != nil {
		data, _ := result.([]byte)
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
	}
	return nil
}
