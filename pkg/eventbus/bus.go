// Package eventbus is the in-process publish/subscribe channel that ties
// mutation sites to every mounted request controller. Dispatch is
// synchronous; handlers are expected to schedule work, not do it.
package eventbus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Topic names are shared with the browser UI and must not change.
const (
	TopicRequestsChanged    = "unite:requests-changed"
	TopicForceRefresh       = "unite:force-refresh-requests"
	TopicFeatureFlagChanged = "unite:feature-flag-changed"
)

type Event struct {
	Topic  string          `json:"type"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

type Handler func(Event)

// Observer is told about every published event.
type Observer interface {
	EventPublished(topic string, listeners int)
}

type Bus struct {
	mu       sync.RWMutex
	subs     map[string]map[uint64]Handler
	next     uint64
	logger   *slog.Logger
	observer Observer
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

func New(opts ...Option) *Bus {
	b := &Bus{subs: map[string]map[uint64]Handler{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for topic and returns the function that removes
// it. Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	if b.subs[topic] == nil {
		b.subs[topic] = map[uint64]Handler{}
	}
	b.subs[topic][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
		})
	}
}

// Listeners counts the handlers registered for topic.
func (b *Bus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish encodes detail and delivers it to every current subscriber.
func (b *Bus) Publish(topic string, detail any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	b.PublishRaw(topic, raw)
	return nil
}

// PublishRaw delivers an already encoded detail.
func (b *Bus) PublishRaw(topic string, detail json.RawMessage) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if b.observer != nil {
		b.observer.EventPublished(topic, len(handlers))
	}
	ev := Event{Topic: topic, Detail: detail}
	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}
