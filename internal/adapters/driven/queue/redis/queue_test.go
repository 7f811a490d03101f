package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

func setupTestQueue(t *testing.T) (*Queue, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	q, err := NewQueue(client, "test-worker")
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	return q, func() {
		client.Close()
		mr.Close()
	}
}

func TestNewQueue_RequiresClient(t *testing.T) {
	_, err := NewQueue(nil, "worker")
	if err == nil {
		t.Error("expected error for nil client")
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncProjectTask("proj-1", false)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a task")
	}
	if got.ID != task.ID {
		t.Errorf("expected task %s, got %s", task.ID, got.ID)
	}
	if got.Status != domain.TaskStatusProcessing {
		t.Errorf("expected processing status, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.Attempts)
	}
	if got.ProjectID() != "proj-1" {
		t.Errorf("expected project_id proj-1, got %s", got.ProjectID())
	}
}

func TestQueue_Enqueue_NilTask(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	if err := q.Enqueue(context.Background(), nil); err == nil {
		t.Error("expected error for nil task")
	}
}

func TestQueue_Ack(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncProjectTask("proj-1", false)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue failed: task=%v err=%v", got, err)
	}

	if err := q.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	stored, err := q.GetTask(ctx, got.ID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if stored.Status != domain.TaskStatusCompleted {
		t.Errorf("expected completed status, got %s", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestQueue_Nack_SchedulesRetry(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncProjectTask("proj-1", false)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue failed: task=%v err=%v", got, err)
	}

	if err := q.Nack(ctx, got.ID, "queue backend hiccup"); err != nil {
		t.Fatalf("nack failed: %v", err)
	}

	stored, err := q.GetTask(ctx, got.ID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if stored.Status != domain.TaskStatusPending {
		t.Errorf("expected pending status for retry, got %s", stored.Status)
	}
	if stored.Error != "queue backend hiccup" {
		t.Errorf("expected error recorded, got %q", stored.Error)
	}
	if !stored.ScheduledFor.After(time.Now()) {
		t.Error("expected retry to be scheduled in the future")
	}
}

func TestQueue_Nack_ExhaustedMarksFailed(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncProjectTask("proj-1", false)
	task.MaxAttempts = 1
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue failed: task=%v err=%v", got, err)
	}

	if err := q.Nack(ctx, got.ID, "still broken"); err != nil {
		t.Fatalf("nack failed: %v", err)
	}

	stored, err := q.GetTask(ctx, got.ID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if stored.Status != domain.TaskStatusFailed {
		t.Errorf("expected failed status, got %s", stored.Status)
	}
}

func TestQueue_EnqueueBatch(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	tasks := []*domain.Task{
		domain.NewSyncProjectTask("proj-1", false),
		domain.NewSyncProjectTask("proj-2", false),
		domain.NewSyncProjectTask("proj-3", false),
	}
	if err := q.EnqueueBatch(ctx, tasks); err != nil {
		t.Fatalf("enqueue batch failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		got, err := q.DequeueWithTimeout(ctx, 1)
		if err != nil {
			t.Fatalf("dequeue %d failed: %v", i, err)
		}
		if got == nil {
			t.Fatalf("expected task on dequeue %d", i)
		}
		seen[got.ProjectID()] = true
	}
	for _, id := range []string{"proj-1", "proj-2", "proj-3"} {
		if !seen[id] {
			t.Errorf("expected to dequeue %s", id)
		}
	}
}

func TestQueue_EnqueueBatch_Empty(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	if err := q.EnqueueBatch(context.Background(), nil); err != nil {
		t.Errorf("unexpected error for empty batch: %v", err)
	}
}

func TestQueue_DelayedTaskNotDequeued(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewSyncProjectTask("proj-1", false)
	task.ScheduledFor = time.Now().Add(time.Hour)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected no task before scheduled time, got %s", got.ID)
	}
}

func TestQueue_GetTask_NotFound(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	task, err := q.GetTask(context.Background(), "no-such-task")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task, got %v", task)
	}
}

func TestQueue_Stats(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	if err := q.Enqueue(ctx, domain.NewSyncProjectTask("proj-1", false)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, domain.NewSyncProjectTask("proj-2", false)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue failed: task=%v err=%v", got, err)
	}
	if err := q.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.CompletedCount != 1 {
		t.Errorf("expected 1 completed, got %d", stats.CompletedCount)
	}
}

func TestQueue_Ping(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	if err := q.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
}

func TestQueue_ManualTaskPriority(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	manual := domain.NewSyncProjectTask("proj-1", true)
	if err := q.Enqueue(ctx, manual); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil || got == nil {
		t.Fatalf("dequeue failed: task=%v err=%v", got, err)
	}
	if !got.Manual() {
		t.Error("expected manual flag to survive the queue round trip")
	}
	if got.Priority != 10 {
		t.Errorf("expected priority 10, got %d", got.Priority)
	}
}
