// Package memory provides in-memory backend and change-feed implementations
// for development and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// Backend is an in-memory entity.Backend. All methods are safe for concurrent
// use.
type Backend struct {
	mu          sync.RWMutex
	snaps       map[string]entity.Snapshot
	unavailable bool
}

// NewBackend constructs an empty Backend.
func NewBackend() *Backend {
	return &Backend{snaps: make(map[string]entity.Snapshot)}
}

// SetStatus records the current status for an entity.
func (b *Backend) SetStatus(entityID, groupID string, status entity.Status, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps[entityID] = entity.Snapshot{
		EntityID:         entityID,
		GroupID:          groupID,
		Status:           status,
		LastTransitionAt: at,
	}
}

// Remove deletes an entity, simulating upstream deletion.
func (b *Backend) Remove(entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.snaps, entityID)
}

// SetUnavailable toggles simulated transport failure for all queries.
func (b *Backend) SetUnavailable(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = down
}

// GetStatus returns the snapshot for one entity.
func (b *Backend) GetStatus(_ context.Context, entityID string) (entity.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.unavailable {
		return entity.Snapshot{}, fmt.Errorf("memory backend: %w", entity.ErrUnavailable)
	}
	snap, ok := b.snaps[entityID]
	if !ok {
		return entity.Snapshot{}, fmt.Errorf("entity %q: %w", entityID, entity.ErrNotFound)
	}
	return snap, nil
}

// GetStatuses returns snapshots for the given entities in one call. Unknown
// entities are absent from the result.
func (b *Backend) GetStatuses(_ context.Context, entityIDs []string) (map[string]entity.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.unavailable {
		return nil, fmt.Errorf("memory backend: %w", entity.ErrUnavailable)
	}
	out := make(map[string]entity.Snapshot, len(entityIDs))
	for _, id := range entityIDs {
		if snap, ok := b.snaps[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}
