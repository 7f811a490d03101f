package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
)

const sweepLockName = "sync-sweep"

// Sweeper periodically enqueues sync tasks for projects that still need one.
// It is the safety net behind the event triggers: lost deliveries, process
// restarts, and projects stuck in pending all get picked up here.
//
// For multi-worker deployments, configure a DistributedLock to prevent
// duplicate enqueuing across instances.
type Sweeper struct {
	projects  driven.ProjectStore
	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	logger    *slog.Logger

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	interval     time.Duration
	maxRetries   int
	lockTTL      time.Duration
	lockRequired bool
}

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	ProjectStore driven.ProjectStore
	TaskQueue    driven.TaskQueue
	Lock         driven.DistributedLock // Optional: coordination across instances
	Logger       *slog.Logger
	Interval     time.Duration // How often to sweep (default: 60s)
	MaxRetries   int           // Retry bound for needs-sync selection (default: 3)
	LockTTL      time.Duration // TTL for the distributed lock (default: 2x interval)
	LockRequired bool          // If true, skip the cycle when the lock cannot be acquired
}

// NewSweeper creates a new sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}

	lockRequired := cfg.LockRequired
	if cfg.Lock != nil {
		// A configured lock is assumed to mean multiple instances exist.
		lockRequired = true
	}

	return &Sweeper{
		projects:     cfg.ProjectStore,
		taskQueue:    cfg.TaskQueue,
		lock:         cfg.Lock,
		logger:       logger,
		interval:     interval,
		maxRetries:   maxRetries,
		lockTTL:      lockTTL,
		lockRequired: lockRequired,
	}
}

// Start begins the sweep loop. It runs until Stop is called or the context
// is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("sweeper starting", "interval", s.interval)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle: select projects needing sync and enqueue a task for
// each. Exported so an admin endpoint can trigger it on demand.
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, sweepLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire sweep lock", "error", err)
			if s.lockRequired {
				return
			}
		} else if !acquired {
			s.logger.Debug("sweep lock held by another instance, skipping cycle")
			return
		} else {
			defer func() {
				if err := s.lock.Release(ctx, sweepLockName); err != nil {
					s.logger.Warn("failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	projects, err := s.projects.ListNeedingSync(ctx, s.maxRetries)
	if err != nil {
		s.logger.Error("failed to list projects needing sync", "error", err)
		return
	}
	if len(projects) == 0 {
		return
	}

	tasks := make([]*domain.Task, 0, len(projects))
	for _, project := range projects {
		tasks = append(tasks, domain.NewSyncProjectTask(project.ID, false))
	}

	if err := s.taskQueue.EnqueueBatch(ctx, tasks); err != nil {
		s.logger.Error("failed to enqueue sweep batch", "count", len(tasks), "error", err)
		return
	}

	s.logger.Info("sweep enqueued sync tasks", "count", len(tasks))
}
