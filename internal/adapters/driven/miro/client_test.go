package miro

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

func TestClient_CreateItem_Card(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody itemEnvelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(itemEnvelope{
			ID:   "card-123",
			Type: "card",
			Data: gotBody.Data,
		})
	}))
	defer server.Close()

	client := NewClient("secret-token", server.URL)

	item := &domain.WhiteboardItem{
		Type:        domain.WhiteboardItemCard,
		Title:       "Website Relaunch",
		Description: "Q4 marketing site",
		Status:      "active",
	}
	created, err := client.CreateItem(context.Background(), "board-1", item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v2/boards/board-1/cards" {
		t.Errorf("expected cards path, got %s", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotBody.Data.Title != "Website Relaunch" {
		t.Errorf("expected title in request body, got %q", gotBody.Data.Title)
	}
	if created.ID != "card-123" {
		t.Errorf("expected id card-123, got %s", created.ID)
	}
	if created.BoardID != "board-1" {
		t.Errorf("expected board id board-1, got %s", created.BoardID)
	}
	if created.Type != domain.WhiteboardItemCard {
		t.Errorf("expected card type, got %s", created.Type)
	}
}

func TestClient_CreateItem_FrameUsesFramesPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(itemEnvelope{ID: "frame-7", Type: "frame"})
	}))
	defer server.Close()

	client := NewClient("token", server.URL)
	item := &domain.WhiteboardItem{Type: domain.WhiteboardItemFrame, Title: "Project Area"}

	created, err := client.CreateItem(context.Background(), "board-1", item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v2/boards/board-1/frames" {
		t.Errorf("expected frames path, got %s", gotPath)
	}
	if created.Type != domain.WhiteboardItemFrame {
		t.Errorf("expected frame type, got %s", created.Type)
	}
}

func TestClient_GetItem_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient("token", server.URL)

	_, err := client.GetItem(context.Background(), "board-1", "gone")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_UpdateItem(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		var env itemEnvelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		env.ID = "card-1"
		_ = json.NewEncoder(w).Encode(env)
	}))
	defer server.Close()

	client := NewClient("token", server.URL)
	item := &domain.WhiteboardItem{Type: domain.WhiteboardItemCard, Title: "Renamed"}

	updated, err := client.UpdateItem(context.Background(), "board-1", "card-1", item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/v2/boards/board-1/cards/card-1" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if updated.Title != "Renamed" {
		t.Errorf("expected updated title, got %q", updated.Title)
	}
}

func TestClient_DeleteItem(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient("token", server.URL)

	if err := client.DeleteItem(context.Background(), "board-1", "card-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", gotMethod)
	}
	if gotPath != "/v2/boards/board-1/items/card-1" {
		t.Errorf("unexpected path %s", gotPath)
	}
}

func TestClient_RateLimitErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient("token", server.URL)

	err := client.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.CategorizeError(err) != domain.ErrorCategoryRateLimit {
		t.Errorf("expected rate limit category, got %s", domain.CategorizeError(err))
	}
}

func TestClient_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient("token", server.URL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := client.Ping(ctx); err == nil {
			t.Fatalf("expected error on call %d", i)
		}
	}

	// Breaker is open now; this call must not reach the server
	err := client.Ping(ctx)
	if err == nil {
		t.Fatal("expected error from open breaker")
	}
	if calls != 5 {
		t.Errorf("expected breaker to stop call 6, server saw %d calls", calls)
	}
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient("token", server.URL)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := client.GetItem(ctx, "board-1", "gone")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("call %d: expected ErrNotFound, got %v", i, err)
		}
	}
	if calls != 10 {
		t.Errorf("expected all 10 calls to reach the server, got %d", calls)
	}
}
