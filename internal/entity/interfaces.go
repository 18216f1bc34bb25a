package entity

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable signals a transport-level failure talking to the backend.
var ErrUnavailable = errors.New("status backend unavailable")

// ErrNotFound signals that the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Backend provides point-in-time status queries against the durable record
// store. Implementations wrap transport errors with ErrUnavailable.
type Backend interface {
	// GetStatus returns the current snapshot for one entity, or ErrNotFound.
	GetStatus(ctx context.Context, entityID string) (Snapshot, error)
	// GetStatuses returns snapshots for the given entities in one round trip.
	// Unknown entities are simply absent from the result.
	GetStatuses(ctx context.Context, entityIDs []string) (map[string]Snapshot, error)
}

// Subscription is a live change-feed resource held until Close.
type Subscription interface {
	Close()
}

// ChangeFeed wraps the backend's subscribe-to-changes primitive for a single
// entity. Subscribe must not block: it registers the callbacks and returns,
// reporting establishment failure via its error return and mid-stream
// transport failure via onError. Retry and backoff policy belong to the
// caller, not the feed.
type ChangeFeed interface {
	Subscribe(entityID string, onChange func(StatusEvent), onError func(error)) (Subscription, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
