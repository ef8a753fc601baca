// Package stream fans change frames out to websocket subscribers.
package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBuffer = 32

// Event frames use the same {type, detail} shape the client relay reads.
// Key is the request id the frame concerns and is never sent on the wire.
type Event struct {
	Type   string          `json:"type"`
	At     string          `json:"at"`
	Key    string          `json:"-"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// NewEvent stamps a frame with the current time. A nil detail is omitted.
func NewEvent(eventType, key string, detail interface{}) Event {
	evt := Event{Type: eventType, Key: key, At: time.Now().UTC().Format(time.RFC3339Nano)}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			evt.Detail = b
		}
	}
	return evt
}

// Subscription is one feed consumer. A non-empty Key limits it to frames
// about that request plus unkeyed broadcast frames.
type Subscription struct {
	C   <-chan Event
	ch  chan Event
	key string
}

type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: map[*Subscription]struct{}{}}
}

func (h *Hub) Subscribe(key string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, key: key}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe closes the subscription channel once; repeat calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish never blocks; a full subscriber misses the frame and the miss is counted.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.key != "" && evt.Key != "" && sub.key != evt.Key {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped is the number of frames lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
