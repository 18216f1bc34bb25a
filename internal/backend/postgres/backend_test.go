package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

func TestGetStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewBackendWithPool(mock, "entity_status", "entity_transitions")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"entity_id", "group_id", "status", "last_transition_at"}).
		AddRow("site-1", "ws-1", "active", now)
	mock.ExpectQuery("SELECT entity_id, group_id, status, last_transition_at FROM entity_status").
		WithArgs("site-1").
		WillReturnRows(rows)

	snap, err := b.GetStatus(context.Background(), "site-1")
	require.NoError(t, err)
	require.Equal(t, entity.Snapshot{
		EntityID:         "site-1",
		GroupID:          "ws-1",
		Status:           entity.StatusActive,
		LastTransitionAt: now,
	}, snap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatusMapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewBackendWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT entity_id, group_id, status, last_transition_at FROM entity_status").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"entity_id", "group_id", "status", "last_transition_at"}))

	_, err = b.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, entity.ErrNotFound)

	mock.ExpectQuery("SELECT entity_id, group_id, status, last_transition_at FROM entity_status").
		WithArgs("site-1").
		WillReturnError(errors.New("connection refused"))

	_, err = b.GetStatus(context.Background(), "site-1")
	require.ErrorIs(t, err, entity.ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatusesBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewBackendWithPool(mock, "entity_status", "entity_transitions")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	ids := []string{"site-1", "site-2", "missing"}
	rows := pgxmock.NewRows([]string{"entity_id", "group_id", "status", "last_transition_at"}).
		AddRow("site-1", "ws-1", "active", now).
		AddRow("site-2", "ws-1", "queued", now)
	mock.ExpectQuery("SELECT entity_id, group_id, status, last_transition_at FROM entity_status").
		WithArgs(ids).
		WillReturnRows(rows)

	snaps, err := b.GetStatuses(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, entity.StatusActive, snaps["site-1"].Status)
	require.Equal(t, entity.StatusQueued, snaps["site-2"].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatusesEmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewBackendWithPool(mock, "", "")
	require.NoError(t, err)

	snaps, err := b.GetStatuses(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, snaps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransitionInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewBackendWithPool(mock, "entity_status", "entity_transitions")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	evt := entity.StatusEvent{
		EntityID:   "site-1",
		GroupID:    "ws-1",
		Status:     entity.StatusSucceeded,
		Source:     entity.SourceFeed,
		ObservedAt: now,
	}
	mock.ExpectExec("INSERT INTO entity_transitions").
		WithArgs("site-1", "ws-1", "succeeded", "feed", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, b.RecordTransition(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewBackendWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewBackendWithPool(mock, "entity-status;drop", "entity_transitions")
	require.Error(t, err)
	_, err = NewBackendWithPool(nil, "", "")
	require.Error(t, err)
}
