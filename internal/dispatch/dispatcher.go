package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// Callback receives one normalized status event.
type Callback func(entity.StatusEvent)

// Config controls buffering for the Dispatcher.
//   - BufferSize: size of the sink channel (default 1024).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize  int
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultSinkTimeout = 10 * time.Second
	maxSinkBatch       = 256
	dropLogInterval    = 5 * time.Second
)

// Dispatcher routes status events to registered callbacks and sinks. Callback
// delivery is synchronous and isolated: a panic in one callback never
// suppresses delivery to the others. Sink delivery runs on a background
// goroutine and never blocks Dispatch.
type Dispatcher struct {
	cfg         Config
	sinks       []Sink
	events      chan entity.StatusEvent
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context

	mu       sync.RWMutex
	byEntity map[string]map[string]Callback
	global   map[string]Callback
	tokens   map[string]string
}

// New initializes a Dispatcher and starts the background sink goroutine.
func New(cfg Config, sinks ...Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan entity.StatusEvent, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
		byEntity:    make(map[string]map[string]Callback),
		global:      make(map[string]Callback),
		tokens:      make(map[string]string),
	}
	go d.run()
	return d
}

// Register attaches cb to events for one entity and returns an unsubscribe
// token. Normally exactly one callback is registered per monitored entity.
func (d *Dispatcher) Register(entityID string, cb Callback) string {
	token := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byEntity[entityID] == nil {
		d.byEntity[entityID] = make(map[string]Callback)
	}
	d.byEntity[entityID][token] = cb
	d.tokens[token] = entityID
	return token
}

// SubscribeAll attaches cb to every dispatched event, regardless of entity.
// This is the process-wide notification channel used by loosely coupled
// consumers that hold no watcher reference.
func (d *Dispatcher) SubscribeAll(cb Callback) string {
	token := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global[token] = cb
	d.tokens[token] = ""
	return token
}

// Unregister removes the registration for token. Unknown tokens are a no-op.
func (d *Dispatcher) Unregister(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entityID, ok := d.tokens[token]
	if !ok {
		return
	}
	delete(d.tokens, token)
	if entityID == "" {
		delete(d.global, token)
		return
	}
	if cbs := d.byEntity[entityID]; cbs != nil {
		delete(cbs, token)
		if len(cbs) == 0 {
			delete(d.byEntity, entityID)
		}
	}
}

// Dispatch delivers evt to the entity's callbacks and all process-wide
// subscribers synchronously, then enqueues it for the sinks. Invalid events
// are discarded.
func (d *Dispatcher) Dispatch(evt entity.StatusEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		d.logger.Debug("discarding invalid status event", zap.Error(err))
		return
	}

	for _, cb := range d.snapshotCallbacks(evt.EntityID) {
		d.invoke(cb, evt)
	}

	select {
	case d.events <- evt:
	default:
		d.dropped.Add(1)
		if d.dropLimiter.Allow(time.Now()) {
			count := d.dropped.Swap(0)
			d.logger.Warn("status events dropped from sink buffer", zap.Int64("dropped", count))
		}
	}
}

// snapshotCallbacks copies the relevant callbacks so Dispatch never invokes
// user code while holding the registration lock.
func (d *Dispatcher) snapshotCallbacks(entityID string) []Callback {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Callback, 0, len(d.byEntity[entityID])+len(d.global))
	for _, cb := range d.byEntity[entityID] {
		out = append(out, cb)
	}
	for _, cb := range d.global {
		out = append(out, cb)
	}
	return out
}

func (d *Dispatcher) invoke(cb Callback, evt entity.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("status callback panicked",
				zap.String("entity_id", evt.EntityID),
				zap.Any("panic", r),
			)
		}
	}()
	cb(evt)
}

// Close drains remaining events, flushes sinks, and blocks until the
// background goroutine exits. Safe to call multiple times.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeCtx = ctx
		close(d.stopCh)
	})
	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher close wait: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case evt := <-d.events:
			d.flush(d.drainFrom(evt))
		case <-d.stopCh:
			d.handleStop()
			return
		}
	}
}

// drainFrom collects whatever is already buffered behind first, up to the
// batch cap, so bursts reach the sinks in one Consume call.
func (d *Dispatcher) drainFrom(first entity.StatusEvent) []entity.StatusEvent {
	batch := make([]entity.StatusEvent, 1, maxSinkBatch)
	batch[0] = first
	for len(batch) < maxSinkBatch {
		select {
		case evt := <-d.events:
			batch = append(batch, evt)
		default:
			return batch
		}
	}
	return batch
}

func (d *Dispatcher) handleStop() {
	for {
		select {
		case evt := <-d.events:
			d.flush(d.drainFrom(evt))
		default:
			d.closeSinks()
			return
		}
	}
}

func (d *Dispatcher) flush(batch []entity.StatusEvent) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range d.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(d.cfg.BaseContext, d.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			d.logger.Warn("status sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (d *Dispatcher) closeSinks() {
	ctx := d.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range d.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			d.logger.Warn("status sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
