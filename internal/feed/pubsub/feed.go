// Package pubsub implements the change-feed adapter over Google Cloud
// Pub/Sub. The analysis pipeline publishes a JSON message per status change;
// this adapter demultiplexes the shared subscription to per-entity
// subscribers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// Feed is an entity.ChangeFeed backed by one Pub/Sub subscription. The
// receive loop starts with the first subscriber and stops with the last, so
// an idle service holds no streaming pull.
type Feed struct {
	sub    *pubsub.Subscription
	client *pubsub.Client
	logger *zap.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]handler
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

type handler struct {
	onChange func(entity.StatusEvent)
	onError  func(error)
}

// New connects a Pub/Sub client and wraps the named subscription. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, projectID, subscriptionID string, logger *zap.Logger) (*Feed, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		sub:      client.Subscription(subscriptionID),
		client:   client,
		logger:   logger,
		handlers: make(map[string]map[int]handler),
	}, nil
}

// Subscribe registers callbacks for one entity's change notifications. It
// never blocks: the shared receive loop is started on its own goroutine when
// needed, and stream failures reach onError asynchronously.
func (f *Feed) Subscribe(entityID string, onChange func(entity.StatusEvent), onError func(error)) (entity.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("pubsub feed is closed")
	}
	f.nextID++
	id := f.nextID
	if f.handlers[entityID] == nil {
		f.handlers[entityID] = make(map[int]handler)
	}
	f.handlers[entityID][id] = handler{onChange: onChange, onError: onError}
	if f.cancel == nil {
		f.startReceiveLocked()
	}
	return &subscription{feed: f, entityID: entityID, id: id}, nil
}

// Close cancels the receive loop and releases the Pub/Sub client. Remaining
// subscribers stop receiving without an error callback.
func (f *Feed) Close() error {
	f.mu.Lock()
	f.closed = true
	cancel := f.cancel
	done := f.done
	f.cancel = nil
	f.done = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := f.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (f *Feed) startReceiveLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done
	go func() {
		defer close(done)
		err := f.sub.Receive(ctx, f.handleMessage)
		if err != nil && ctx.Err() == nil {
			f.logger.Warn("pubsub receive terminated", zap.Error(err))
			f.broadcastError(err)
		}
	}()
}

func (f *Feed) stopReceiveLocked() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
	f.done = nil
}

func (f *Feed) handleMessage(_ context.Context, msg *pubsub.Message) {
	evt, err := decodeChange(msg.Data)
	if err != nil {
		// Poison messages are acked so they do not redeliver forever.
		f.logger.Debug("discarding malformed change notification", zap.Error(err))
		msg.Ack()
		return
	}
	f.mu.Lock()
	handlers := make([]handler, 0, len(f.handlers[evt.EntityID]))
	for _, h := range f.handlers[evt.EntityID] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h.onChange(evt)
	}
	msg.Ack()
}

func (f *Feed) broadcastError(err error) {
	f.mu.Lock()
	var all []handler
	for _, m := range f.handlers {
		for _, h := range m {
			all = append(all, h)
		}
	}
	f.mu.Unlock()
	for _, h := range all {
		h.onError(err)
	}
}

// changeMessage is the wire form published by the analysis pipeline.
type changeMessage struct {
	EntityID   string    `json:"entity_id"`
	GroupID    string    `json:"group_id"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

func decodeChange(data []byte) (entity.StatusEvent, error) {
	var msg changeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return entity.StatusEvent{}, fmt.Errorf("unmarshal change notification: %w", err)
	}
	evt := entity.StatusEvent{
		EntityID:   msg.EntityID,
		GroupID:    msg.GroupID,
		Status:     entity.Status(msg.Status),
		Source:     entity.SourceFeed,
		ObservedAt: msg.ObservedAt.UTC(),
	}
	if err := evt.Validate(); err != nil {
		return entity.StatusEvent{}, err
	}
	return evt, nil
}

type subscription struct {
	feed     *Feed
	entityID string
	id       int
	once     sync.Once
}

// Close releases the per-entity registration; the shared receive loop stops
// when the last registration closes.
func (s *subscription) Close() {
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		defer f.mu.Unlock()
		if m := f.handlers[s.entityID]; m != nil {
			delete(m, s.id)
			if len(m) == 0 {
				delete(f.handlers, s.entityID)
			}
		}
		if len(f.handlers) == 0 {
			f.stopReceiveLocked()
		}
	})
}
