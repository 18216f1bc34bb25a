package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

func TestBackendPointAndBatchQueries(t *testing.T) {
	t.Parallel()

	b := NewBackend()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	b.SetStatus("site-a", "ws-1", entity.StatusActive, now)
	b.SetStatus("site-b", "ws-1", entity.StatusQueued, now)

	snap, err := b.GetStatus(ctx, "site-a")
	require.NoError(t, err)
	require.Equal(t, entity.StatusActive, snap.Status)
	require.Equal(t, "ws-1", snap.GroupID)

	_, err = b.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, entity.ErrNotFound)

	snaps, err := b.GetStatuses(ctx, []string{"site-a", "site-b", "missing"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, entity.StatusQueued, snaps["site-b"].Status)
}

func TestBackendUnavailable(t *testing.T) {
	t.Parallel()

	b := NewBackend()
	b.SetStatus("site-a", "ws-1", entity.StatusActive, time.Now().UTC())
	b.SetUnavailable(true)

	_, err := b.GetStatus(context.Background(), "site-a")
	require.ErrorIs(t, err, entity.ErrUnavailable)
	_, err = b.GetStatuses(context.Background(), []string{"site-a"})
	require.ErrorIs(t, err, entity.ErrUnavailable)

	b.SetUnavailable(false)
	_, err = b.GetStatus(context.Background(), "site-a")
	require.NoError(t, err)
}

func TestFeedDeliversPerEntity(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	var gotA, gotB []entity.StatusEvent
	subA, err := f.Subscribe("site-a", func(evt entity.StatusEvent) { gotA = append(gotA, evt) }, func(error) {})
	require.NoError(t, err)
	_, err = f.Subscribe("site-b", func(evt entity.StatusEvent) { gotB = append(gotB, evt) }, func(error) {})
	require.NoError(t, err)
	require.Equal(t, 2, f.LiveSubscriptions())

	f.Emit(entity.StatusEvent{EntityID: "site-a", Status: entity.StatusSucceeded, ObservedAt: time.Now().UTC()})
	require.Len(t, gotA, 1)
	require.Empty(t, gotB)

	subA.Close()
	subA.Close() // idempotent
	require.Equal(t, 1, f.LiveSubscriptions())

	f.Emit(entity.StatusEvent{EntityID: "site-a", Status: entity.StatusFailed, ObservedAt: time.Now().UTC()})
	require.Len(t, gotA, 1)
}

func TestFeedFailureAndRefusal(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	var failures []error
	_, err := f.Subscribe("site-a", func(entity.StatusEvent) {}, func(err error) { failures = append(failures, err) })
	require.NoError(t, err)

	f.Fail("site-a", errors.New("stream reset"))
	require.Len(t, failures, 1)

	f.RefuseSubscriptions(true)
	_, err = f.Subscribe("site-b", func(entity.StatusEvent) {}, func(error) {})
	require.Error(t, err)
}
