package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

type stubTransitionStore struct {
	recorded []entity.StatusEvent
	err      error
}

func (s *stubTransitionStore) RecordTransition(_ context.Context, evt entity.StatusEvent) error {
	if s.err != nil {
		return s.err
	}
	s.recorded = append(s.recorded, evt)
	return nil
}

func TestStoreSinkPersistsBatch(t *testing.T) {
	t.Parallel()

	store := &stubTransitionStore{}
	sink := NewStoreSink(store, nil)

	batch := []entity.StatusEvent{
		evt("site-a", entity.StatusActive, entity.SourceFeed),
		evt("site-a", entity.StatusSucceeded, entity.SourceReconcile),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, store.recorded, 2)
	require.Equal(t, entity.StatusSucceeded, store.recorded[1].Status)
}

func TestStoreSinkPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &stubTransitionStore{err: errors.New("connection reset")}
	sink := NewStoreSink(store, nil)

	err := sink.Consume(context.Background(), []entity.StatusEvent{
		evt("site-a", entity.StatusActive, entity.SourceFeed),
	})
	require.ErrorContains(t, err, "record transition")
}

func TestStoreSinkNilStoreIsNoop(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []entity.StatusEvent{
		evt("site-a", entity.StatusActive, entity.SourceFeed),
	}))
	require.NoError(t, sink.Close(context.Background()))
}
