package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// LogSink emits structured logs for status transitions. It is useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []entity.StatusEvent) error {
	for _, evt := range batch {
		s.logger.Info("status transition",
			zap.String("entity_id", evt.EntityID),
			zap.String("group_id", evt.GroupID),
			zap.String("status", string(evt.Status)),
			zap.String("source", string(evt.Source)),
			zap.Time("observed_at", evt.ObservedAt),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
