package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// PrometheusSink exports monitoring-core metrics via Prometheus. It owns the
// collectors for observed transitions, live monitored entities, lifecycle
// regressions, and terminal outcomes.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	monitored   prometheus.Gauge
	regressions prometheus.Counter
	outcomes    *prometheus.CounterVec

	tracker *statusTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_transitions_total",
			Help: "Status observations accepted, partitioned by status and source.",
		}, []string{"status", "source"}),
		monitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statuswatch_entities_monitored",
			Help: "Entities currently emitting status events.",
		}),
		regressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statuswatch_status_regressions_total",
			Help: "Observations that moved an entity backwards in the lifecycle ordering.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statuswatch_terminal_total",
			Help: "Entities reaching a terminal status, partitioned by result.",
		}, []string{"result"}),
		tracker: newStatusTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.transitions,
		s.monitored,
		s.regressions,
		s.outcomes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register statuswatch collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []entity.StatusEvent) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt entity.StatusEvent) {
	s.transitions.WithLabelValues(string(evt.Status), string(evt.Source)).Inc()

	prev, seen := s.tracker.observe(evt.EntityID, evt.Status)
	if seen && evt.Status.Rank() < prev.Rank() {
		s.regressions.Inc()
	}
	switch {
	case evt.Status.Terminal() && (!seen || !prev.Terminal()):
		if seen {
			s.monitored.Dec()
		}
		s.outcomes.WithLabelValues(string(evt.Status)).Inc()
		s.tracker.forget(evt.EntityID)
	case !evt.Status.Terminal() && !seen:
		s.monitored.Inc()
	}
}

// Close implements the Sink interface; collectors stay registered.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// statusTracker remembers the last status seen per entity so the sink can
// derive gauge movement and regressions without access to watcher state.
type statusTracker struct {
	mu   sync.Mutex
	last map[string]entity.Status
}

func newStatusTracker() *statusTracker {
	return &statusTracker{last: make(map[string]entity.Status)}
}

func (t *statusTracker) observe(entityID string, status entity.Status) (entity.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.last[entityID]
	t.last[entityID] = status
	return prev, ok
}

func (t *statusTracker) forget(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, entityID)
}
