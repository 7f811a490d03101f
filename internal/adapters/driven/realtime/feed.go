package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/events"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// changeFrame is the wire format of the store's realtime channel.
type changeFrame struct {
	Table  string          `json:"table"`
	Event  string          `json:"event"` // INSERT, UPDATE, DELETE
	OldRow json.RawMessage `json:"oldRow,omitempty"`
	NewRow json.RawMessage `json:"newRow,omitempty"`
}

// Feed subscribes to the database change feed over a websocket and
// republishes project row changes as domain events. Rows changed by another
// writer (a second API instance, a manual DB edit) reach the bus this way;
// the wire format never leaves this package.
type Feed struct {
	url    string
	bus    *events.Bus
	logger *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFeed creates a change-feed subscriber for the given websocket URL.
func NewFeed(url string, bus *events.Bus, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		url:    url,
		bus:    bus,
		logger: logger,
		dialer: websocket.DefaultDialer,
	}
}

// Start begins consuming the feed. It reconnects with capped backoff until
// Stop is called or the context is cancelled.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	go f.run(ctx)
	return nil
}

// Stop closes the feed and waits for the read loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	close(f.stopCh)
	f.mu.Unlock()

	<-f.doneCh

	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.logger.Info("realtime feed stopped")
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.doneCh)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.logger.Warn("realtime feed dial failed",
				"url", f.url,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		f.logger.Info("realtime feed connected", "url", f.url)
		backoff = initialBackoff

		f.readLoop(ctx, conn)
		conn.Close()
	}
}

// readLoop consumes frames until the connection breaks or the feed stops.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the feed is stopped
	closeOnce := make(chan struct{})
	defer close(closeOnce)
	go func() {
		select {
		case <-f.stopCh:
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		case <-closeOnce:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopCh:
			case <-ctx.Done():
			default:
				f.logger.Warn("realtime feed read failed", "error", err)
			}
			return
		}

		var frame changeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.logger.Warn("realtime feed frame malformed", "error", err)
			continue
		}

		f.handleFrame(ctx, frame)
	}
}

// handleFrame translates a project row change into domain events.
// Non-project tables are ignored.
func (f *Feed) handleFrame(ctx context.Context, frame changeFrame) {
	if frame.Table != "projects" {
		return
	}

	switch frame.Event {
	case "INSERT":
		project, err := decodeProject(frame.NewRow)
		if err != nil {
			f.logger.Warn("realtime feed row malformed", "event", frame.Event, "error", err)
			return
		}
		f.publish(ctx, domain.ProjectCreated{Project: project})

	case "UPDATE":
		project, err := decodeProject(frame.NewRow)
		if err != nil {
			f.logger.Warn("realtime feed row malformed", "event", frame.Event, "error", err)
			return
		}
		f.publish(ctx, domain.ProjectUpdated{Project: project})

		if old, err := decodeProject(frame.OldRow); err == nil && old.Status != project.Status {
			f.publish(ctx, domain.ProjectStatusChanged{
				Project:   project,
				OldStatus: old.Status,
				NewStatus: project.Status,
			})
		}

	case "DELETE":
		old, err := decodeProject(frame.OldRow)
		if err != nil {
			f.logger.Warn("realtime feed row malformed", "event", frame.Event, "error", err)
			return
		}
		f.publish(ctx, domain.ProjectDeleted{
			ProjectID: old.ID,
			BoardID:   old.BoardID,
			CardID:    old.CardID,
			FrameID:   old.FrameID,
		})
	}
}

func (f *Feed) publish(ctx context.Context, event domain.Event) {
	if err := f.bus.Publish(ctx, event); err != nil {
		f.logger.Warn("realtime feed publish",
			"kind", string(event.Kind()),
			"error", err,
		)
	}
}

func decodeProject(raw json.RawMessage) (*domain.Project, error) {
	var p domain.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
