package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

func evt(entityID string, status entity.Status, source entity.Source) entity.StatusEvent {
	return entity.StatusEvent{
		EntityID:   entityID,
		GroupID:    "ws-1",
		Status:     status,
		Source:     source,
		ObservedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestPrometheusSinkTracksLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []entity.StatusEvent{
		evt("site-a", entity.StatusActive, entity.SourceFeed),
		evt("site-b", entity.StatusActive, entity.SourcePoll),
		evt("site-a", entity.StatusSucceeded, entity.SourceFeed),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.monitored))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.outcomes.WithLabelValues("succeeded")))
	require.Equal(t, float64(2), testutil.ToFloat64(
		sink.transitions.WithLabelValues("active", "feed"))+testutil.ToFloat64(
		sink.transitions.WithLabelValues("active", "poll")))
}

func TestPrometheusSinkCountsRegressions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []entity.StatusEvent{
		evt("site-a", entity.StatusActive, entity.SourceFeed),
		evt("site-a", entity.StatusQueued, entity.SourceReconcile),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.regressions))
	// Still one monitored entity; a regression does not end the lifecycle.
	require.Equal(t, float64(1), testutil.ToFloat64(sink.monitored))
}

func TestPrometheusSinkRegisterTwiceFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
