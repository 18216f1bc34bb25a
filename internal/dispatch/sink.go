package dispatch

import (
	"context"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// Sink consumes batches of status events off the dispatcher's buffer.
// Implementations must be safe for repeated calls, honor ctx deadlines, and
// may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []entity.StatusEvent) error
	Close(ctx context.Context) error
}
