package memory

import (
	"errors"
	"sync"

	"github.com/visibly-ai/statuswatch/internal/entity"
)

// Feed is an in-memory entity.ChangeFeed with explicit controls for emitting
// change notifications and injecting transport failures. Tests drive it
// directly; development mode pairs it with Backend.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]feedHandler
	refuse  bool
	liveCnt int
}

type feedHandler struct {
	onChange func(entity.StatusEvent)
	onError  func(error)
}

// NewFeed constructs an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[int]feedHandler)}
}

// RefuseSubscriptions makes subsequent Subscribe calls fail, simulating a
// transport that cannot establish subscriptions.
func (f *Feed) RefuseSubscriptions(refuse bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refuse = refuse
}

// Subscribe registers callbacks for one entity's change notifications.
func (f *Feed) Subscribe(entityID string, onChange func(entity.StatusEvent), onError func(error)) (entity.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return nil, errors.New("memory feed: subscriptions refused")
	}
	f.nextID++
	id := f.nextID
	if f.subs[entityID] == nil {
		f.subs[entityID] = make(map[int]feedHandler)
	}
	f.subs[entityID][id] = feedHandler{onChange: onChange, onError: onError}
	f.liveCnt++
	return &feedSub{feed: f, entityID: entityID, id: id}, nil
}

// Emit delivers a change notification to the entity's subscribers.
func (f *Feed) Emit(evt entity.StatusEvent) {
	f.mu.Lock()
	handlers := make([]feedHandler, 0, len(f.subs[evt.EntityID]))
	for _, h := range f.subs[evt.EntityID] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h.onChange(evt)
	}
}

// Fail reports a mid-stream transport failure to every subscriber of the
// entity. With an empty entityID it fails every live subscription.
func (f *Feed) Fail(entityID string, err error) {
	f.mu.Lock()
	var handlers []feedHandler
	if entityID == "" {
		for _, m := range f.subs {
			for _, h := range m {
				handlers = append(handlers, h)
			}
		}
	} else {
		for _, h := range f.subs[entityID] {
			handlers = append(handlers, h)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h.onError(err)
	}
}

// LiveSubscriptions reports how many subscriptions are currently open.
func (f *Feed) LiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveCnt
}

type feedSub struct {
	feed     *Feed
	entityID string
	id       int
	once     sync.Once
}

// Close releases the subscription. It is idempotent.
func (s *feedSub) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()
		if m := s.feed.subs[s.entityID]; m != nil {
			if _, ok := m[s.id]; ok {
				delete(m, s.id)
				s.feed.liveCnt--
			}
			if len(m) == 0 {
				delete(s.feed.subs, s.entityID)
			}
		}
	})
}
