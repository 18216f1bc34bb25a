package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// TransitionStore persists accepted status transitions for the dashboard's
// history views.
type TransitionStore interface {
	RecordTransition(ctx context.Context, evt entity.StatusEvent) error
}

// StoreSink persists status transitions via a TransitionStore.
type StoreSink struct {
	store  TransitionStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store TransitionStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume forwards each event to the store. It respects ctx deadlines and
// stops at the first store error so the dispatcher can log it.
func (s *StoreSink) Consume(ctx context.Context, batch []entity.StatusEvent) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.store.RecordTransition(ctx, evt); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
