package watch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// pollDriver runs one polling goroutine for a watcher. Stopping the driver
// closes stopCh; a stale driver that races a result past its stop is
// filtered on the loop by identity.
type pollDriver struct {
	interval time.Duration
	stopCh   chan struct{}
}

// startPoll (re)starts polling at the cadence for the watcher's current
// status. Runs on the loop.
func (r *Registry) startPoll(w *watcher) {
	r.stopPoll(w)
	if w.status.Terminal() {
		return
	}
	p := &pollDriver{
		interval: r.pollInterval(w.status),
		stopCh:   make(chan struct{}),
	}
	w.poll = p
	w.mode = modePoll
	go r.runPoll(w, p)
}

func (r *Registry) stopPoll(w *watcher) {
	if w.poll != nil {
		close(w.poll.stopCh)
		w.poll = nil
	}
}

func (r *Registry) pollInterval(status entity.Status) time.Duration {
	if status == entity.StatusActive {
		return r.cfg.PollActiveInterval
	}
	return r.cfg.PollQueuedInterval
}

func (r *Registry) runPoll(w *watcher, p *pollDriver) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-r.stopCh:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.QueryTimeout)
		snap, err := r.backend.GetStatus(ctx, w.entityID)
		cancel()

		switch {
		case errors.Is(err, entity.ErrNotFound):
			r.post(func() {
				if w.poll != p {
					return
				}
				r.removeWatcher(w, "entity deleted upstream")
			})
			return
		case err != nil:
			// Transient backend trouble; keep the cadence and try again.
			r.logger.Debug("status poll failed",
				zap.String("entity_id", w.entityID),
				zap.Error(err),
			)
		default:
			observedAt := r.clock.Now()
			r.post(func() {
				if w.poll != p {
					return
				}
				r.applyObservation(w, snap.Status, observedAt, entity.SourcePoll)
			})
		}
		timer.Reset(p.interval)
	}
}
