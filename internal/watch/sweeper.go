package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// sweeper periodically reconciles every watcher against the backend. It
// catches transitions both delivery paths missed and entities deleted
// behind our back.
type sweeper struct {
	stopCh chan struct{}
}

// startSweeper runs while at least one watcher exists. Runs on the loop.
func (r *Registry) startSweeper() {
	if r.sweep != nil {
		return
	}
	s := &sweeper{stopCh: make(chan struct{})}
	r.sweep = s
	go r.runSweeper(s)
}

func (r *Registry) stopSweeper() {
	if r.sweep != nil {
		close(r.sweep.stopCh)
		r.sweep = nil
	}
}

func (r *Registry) runSweeper(s *sweeper) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.post(func() { r.sweepTick(s) })
		}
	}
}

// sweepTarget is a loop-time snapshot of a watcher, so the batch query can
// run off the loop without touching live state.
type sweepTarget struct {
	w           *watcher
	status      entity.Status
	lastEventAt time.Time
}

// sweepTick snapshots the registry and hands the batch lookup to a worker
// goroutine. Runs on the loop.
func (r *Registry) sweepTick(s *sweeper) {
	if r.sweep != s || len(r.watchers) == 0 {
		return
	}
	targets := make([]sweepTarget, 0, len(r.watchers))
	for _, w := range r.watchers {
		targets = append(targets, sweepTarget{w: w, status: w.status, lastEventAt: w.lastEventAt})
	}
	go r.reconcile(targets)
}

func (r *Registry) reconcile(targets []sweepTarget) {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.w.entityID
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.QueryTimeout)
	snaps, err := r.backend.GetStatuses(ctx, ids)
	cancel()
	if err != nil {
		r.logger.Debug("reconciliation sweep failed", zap.Error(err))
		return
	}

	now := r.clock.Now()
	for _, t := range targets {
		t := t
		snap, ok := snaps[t.w.entityID]
		if !ok {
			r.post(func() { r.removeWatcher(t.w, "entity deleted upstream") })
			continue
		}
		if snap.Status != t.status || now.Sub(t.lastEventAt) > r.cfg.StalenessThreshold {
			status := snap.Status
			r.post(func() { r.applyObservation(t.w, status, now, entity.SourceReconcile) })
		}
	}
}
