package watch

import (
	"time"

	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// deliveryMode identifies which update path a watcher currently holds. At
// most one of feed/poll is live at any instant.
type deliveryMode int

const (
	modeNone deliveryMode = iota
	modeFeed
	modePoll
)

func (m deliveryMode) String() string {
	switch m {
	case modeFeed:
		return "feed"
	case modePoll:
		return "poll"
	default:
		return "none"
	}
}

// watcher tracks one entity. All fields are confined to the registry loop.
type watcher struct {
	entityID string
	groupID  string

	mode        deliveryMode
	status      entity.Status
	lastEventAt time.Time

	// reconnects counts consecutive feed failures; it resets when a
	// subscription is established and caps at MaxFeedAttempts, after which
	// the watcher polls for the rest of its lifetime.
	reconnects    int
	permanentPoll bool

	// active flips false exactly once, at teardown. Every observation and
	// failure task checks it first, which makes late callbacks from a
	// torn-down feed or timer benign.
	active bool

	feedSub entity.Subscription
	poll    *pollDriver
	retry   *time.Timer
	cbToken string
}

// createWatcher installs a watcher for an entity already confirmed active.
// Runs on the loop. Existing watchers are left untouched.
func (r *Registry) createWatcher(entityID, groupID string, cb func(entity.StatusEvent)) {
	if _, ok := r.watchers[entityID]; ok {
		return
	}
	w := &watcher{
		entityID:    entityID,
		groupID:     groupID,
		status:      entity.StatusActive,
		lastEventAt: r.clock.Now(),
		active:      true,
	}
	if cb != nil {
		w.cbToken = r.disp.Register(entityID, cb)
	}
	r.watchers[entityID] = w
	if len(r.watchers) == 1 {
		r.startSweeper()
	}
	r.logger.Info("monitoring started",
		zap.String("entity_id", entityID),
		zap.String("group_id", groupID),
	)
	r.attemptFeed(w)
}

// attemptFeed tries to establish the change feed. Runs on the loop. Failure
// at establishment routes through the same path as a mid-stream failure.
func (r *Registry) attemptFeed(w *watcher) {
	if r.feed == nil || w.permanentPoll {
		r.startPoll(w)
		return
	}
	r.stopPoll(w)
	w.mode = modeNone

	onChange := func(evt entity.StatusEvent) {
		r.post(func() {
			r.applyObservation(w, evt.Status, evt.ObservedAt, entity.SourceFeed)
		})
	}
	onError := func(err error) {
		r.post(func() {
			r.handleFeedFailure(w, err)
		})
	}
	sub, err := r.feed.Subscribe(w.entityID, onChange, onError)
	if err != nil {
		r.handleFeedFailure(w, err)
		return
	}
	w.feedSub = sub
	w.mode = modeFeed
	w.reconnects = 0
	r.logger.Debug("change feed established", zap.String("entity_id", w.entityID))
}

// handleFeedFailure switches the watcher to polling and, while under the
// attempt cap, schedules a backoff retry of the feed. Runs on the loop.
func (r *Registry) handleFeedFailure(w *watcher, err error) {
	if !w.active {
		return
	}
	if w.feedSub != nil {
		w.feedSub.Close()
		w.feedSub = nil
	}
	w.reconnects++
	if w.reconnects >= r.cfg.MaxFeedAttempts {
		w.permanentPoll = true
		r.logger.Warn("change feed disabled after repeated failures",
			zap.String("entity_id", w.entityID),
			zap.Int("attempts", w.reconnects),
			zap.Error(err),
		)
	} else {
		delay := r.feedRetryDelay(w.reconnects)
		r.logger.Debug("change feed failed, retry scheduled",
			zap.String("entity_id", w.entityID),
			zap.Int("attempt", w.reconnects),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		w.retry = time.AfterFunc(delay, func() {
			r.post(func() {
				if !w.active || w.permanentPoll {
					return
				}
				r.attemptFeed(w)
			})
		})
	}
	if w.mode != modePoll {
		r.startPoll(w)
	}
}

func (r *Registry) feedRetryDelay(attempt int) time.Duration {
	if attempt > 20 {
		return r.cfg.FeedRetryCap
	}
	delay := r.cfg.FeedRetryBase << uint(attempt-1)
	if delay > r.cfg.FeedRetryCap || delay <= 0 {
		return r.cfg.FeedRetryCap
	}
	return delay
}

// applyObservation is the single acceptance path for all sources. It
// dispatches before the lifecycle check so callers see terminal statuses at
// least once. Runs on the loop.
func (r *Registry) applyObservation(w *watcher, status entity.Status, observedAt time.Time, source entity.Source) {
	if !w.active {
		return
	}
	prev := w.status
	if status.Rank() < prev.Rank() {
		// The backend is the source of truth even when it reports a
		// lifecycle regression.
		r.logger.Warn("status regression observed",
			zap.String("entity_id", w.entityID),
			zap.String("previous", string(prev)),
			zap.String("status", string(status)),
			zap.String("source", string(source)),
		)
	}
	w.status = status
	w.lastEventAt = r.clock.Now()

	r.disp.Dispatch(entity.StatusEvent{
		EntityID:   w.entityID,
		GroupID:    w.groupID,
		Status:     status,
		Source:     source,
		ObservedAt: observedAt,
	})

	if status.Terminal() {
		r.removeWatcher(w, "terminal status observed")
		return
	}
	if w.mode == modePoll && w.poll != nil && w.poll.interval != r.pollInterval(status) {
		// Queued/active flips change the poll cadence.
		r.startPoll(w)
	}
}

// removeWatcher releases the watcher's resources synchronously and
// deregisters it. Runs on the loop; idempotent.
func (r *Registry) removeWatcher(w *watcher, reason string) {
	if !w.active {
		return
	}
	w.active = false
	if w.retry != nil {
		w.retry.Stop()
		w.retry = nil
	}
	if w.feedSub != nil {
		w.feedSub.Close()
		w.feedSub = nil
	}
	r.stopPoll(w)
	w.mode = modeNone
	if w.cbToken != "" {
		r.disp.Unregister(w.cbToken)
		w.cbToken = ""
	}
	delete(r.watchers, w.entityID)
	if len(r.watchers) == 0 {
		r.stopSweeper()
	}
	r.logger.Info("monitoring stopped",
		zap.String("entity_id", w.entityID),
		zap.String("group_id", w.groupID),
		zap.String("reason", reason),
	)
}
