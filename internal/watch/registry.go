package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/dispatch"
	"github.com/visibly-ai/statuswatch/internal/entity"
)

// ErrClosed is returned by registry operations after Close.
var ErrClosed = errors.New("watch: registry is closed")

// Config governs watcher, poll, and reconciliation behavior.
type Config struct {
	// PollActiveInterval is the poll cadence while the entity is active.
	PollActiveInterval time.Duration
	// PollQueuedInterval is the slower cadence while the entity is queued.
	PollQueuedInterval time.Duration
	// SweepInterval is the cadence of the reconciliation sweeper.
	SweepInterval time.Duration
	// StalenessThreshold forces a reconciliation dispatch when no observation
	// has landed for this long, even if the status is unchanged.
	StalenessThreshold time.Duration
	// FeedRetryBase seeds the exponential backoff between feed attempts.
	FeedRetryBase time.Duration
	// FeedRetryCap bounds the backoff delay.
	FeedRetryCap time.Duration
	// MaxFeedAttempts caps feed failures before a watcher polls for the rest
	// of its lifetime.
	MaxFeedAttempts int
	// QueryTimeout bounds individual backend queries issued off the loop.
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollActiveInterval <= 0 {
		c.PollActiveInterval = 3 * time.Second
	}
	if c.PollQueuedInterval <= 0 {
		c.PollQueuedInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = time.Minute
	}
	if c.FeedRetryBase <= 0 {
		c.FeedRetryBase = time.Second
	}
	if c.FeedRetryCap <= 0 {
		c.FeedRetryCap = 2 * time.Minute
	}
	if c.MaxFeedAttempts <= 0 {
		c.MaxFeedAttempts = 5
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	return c
}

// Diagnostics is a read-only snapshot of one group's monitoring state.
type Diagnostics struct {
	// IsActive reports whether any watcher is live for the group.
	IsActive bool `json:"is_active"`
	// HasRealtime reports whether any of the group's watchers currently
	// receives updates over the change feed.
	HasRealtime bool `json:"has_realtime"`
	// WatcherCount is the number of live watchers for the group.
	WatcherCount int `json:"watcher_count"`
}

// Registry creates, indexes, and tears down entity watchers. Construct one
// per process (or per test) with NewRegistry; it owns one event-loop
// goroutine plus one goroutine per active poll driver and one for the shared
// reconciliation sweeper while any watcher is live.
type Registry struct {
	backend entity.Backend
	feed    entity.ChangeFeed
	disp    *dispatch.Dispatcher
	clock   entity.Clock
	cfg     Config
	logger  *zap.Logger

	tasks  chan func()
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once

	// Loop-confined state. Only the run goroutine touches these.
	watchers map[string]*watcher
	sweep    *sweeper
}

// NewRegistry constructs a Registry and starts its event loop. feed may be
// nil, in which case every watcher polls from the start.
func NewRegistry(
	backend entity.Backend,
	feed entity.ChangeFeed,
	disp *dispatch.Dispatcher,
	clock entity.Clock,
	cfg Config,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		backend:  backend,
		feed:     feed,
		disp:     disp,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		tasks:    make(chan func(), 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		watchers: make(map[string]*watcher),
	}
	go r.run()
	return r
}

// StartMonitoring begins watching one entity. It queries the entity's
// current status first: entities that are unknown or not in active status are
// skipped without error, and an existing watcher for the entity makes the
// call a no-op. cb may be nil when the caller only consumes the process-wide
// stream. Callbacks run on the registry loop and must not call back into the
// Registry.
func (r *Registry) StartMonitoring(ctx context.Context, entityID, groupID string, cb func(entity.StatusEvent)) error {
	if entityID == "" {
		return errors.New("entity id is required")
	}
	snap, err := r.backend.GetStatus(ctx, entityID)
	if errors.Is(err, entity.ErrNotFound) {
		r.logger.Debug("entity unknown to backend, not monitoring", zap.String("entity_id", entityID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("query entity status: %w", err)
	}
	if snap.Status != entity.StatusActive {
		r.logger.Debug("entity not active, not monitoring",
			zap.String("entity_id", entityID),
			zap.String("status", string(snap.Status)),
		)
		return nil
	}
	return r.runTask(ctx, func() {
		r.createWatcher(entityID, groupID, cb)
	})
}

// MonitorGroup begins watching every candidate entity currently in active
// status, using a single backend round trip for the status check. Candidates
// in any other status are skipped.
func (r *Registry) MonitorGroup(ctx context.Context, groupID string, entityIDs []string, cb func(entity.StatusEvent)) error {
	if len(entityIDs) == 0 {
		return nil
	}
	snaps, err := r.backend.GetStatuses(ctx, entityIDs)
	if err != nil {
		return fmt.Errorf("query group statuses: %w", err)
	}
	active := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if snap, ok := snaps[id]; ok && snap.Status == entity.StatusActive {
			active = append(active, id)
		}
	}
	r.logger.Debug("group monitoring requested",
		zap.String("group_id", groupID),
		zap.Int("candidates", len(entityIDs)),
		zap.Int("active", len(active)),
	)
	if len(active) == 0 {
		return nil
	}
	return r.runTask(ctx, func() {
		for _, id := range active {
			r.createWatcher(id, groupID, cb)
		}
	})
}

// StopMonitoring tears down the entity's watcher if present; unknown entities
// are a no-op. When it returns, no further events are dispatched for the
// entity even if an in-flight query later completes.
func (r *Registry) StopMonitoring(ctx context.Context, entityID string) error {
	return r.runTask(ctx, func() {
		if w, ok := r.watchers[entityID]; ok {
			r.removeWatcher(w, "removed by caller")
		}
	})
}

// StopGroup tears down every watcher whose group matches.
func (r *Registry) StopGroup(ctx context.Context, groupID string) error {
	return r.runTask(ctx, func() {
		for _, w := range r.watchers {
			if w.groupID == groupID {
				r.removeWatcher(w, "group stopped")
			}
		}
	})
}

// Diagnostics returns a read-only snapshot of one group's monitoring state.
func (r *Registry) Diagnostics(ctx context.Context, groupID string) (Diagnostics, error) {
	var diag Diagnostics
	err := r.runTask(ctx, func() {
		for _, w := range r.watchers {
			if w.groupID != groupID {
				continue
			}
			diag.IsActive = true
			diag.WatcherCount++
			if w.mode == modeFeed {
				diag.HasRealtime = true
			}
		}
	})
	return diag, err
}

// Close tears down every watcher and stops the event loop. It is idempotent.
func (r *Registry) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.closeOnce.Do(func() {
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry close wait: %w", ctx.Err())
	}
}

// post schedules fn on the event loop. It reports false once shutdown begins.
func (r *Registry) post(fn func()) bool {
	select {
	case r.tasks <- fn:
		return true
	case <-r.stopCh:
		return false
	}
}

// runTask schedules fn and waits for the loop to execute it, so registry
// operations are synchronous from the caller's point of view.
func (r *Registry) runTask(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case r.tasks <- task:
	case <-r.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("registry task submit: %w", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-r.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("registry task wait: %w", ctx.Err())
	}
}

func (r *Registry) run() {
	defer close(r.doneCh)
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.stopCh:
			r.shutdown()
			return
		}
	}
}

func (r *Registry) shutdown() {
	for _, w := range r.watchers {
		r.removeWatcher(w, "registry shutdown")
	}
	// Run tasks that raced with shutdown so their waiters unblock; the
	// isActive guards make them no-ops.
	for {
		select {
		case fn := <-r.tasks:
			fn()
		default:
			return
		}
	}
}
