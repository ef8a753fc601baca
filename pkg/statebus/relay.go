package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Pkv562/UNITE/pkg/eventbus"
)

// Frame is the wire shape of a relayed event.
type Frame struct {
	Type   string          `json:"type"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Relay republishes recognized frames from a Consumer on the local bus.
type Relay struct {
	consumer   Consumer
	bus        *eventbus.Bus
	logger     *slog.Logger
	retryDelay time.Duration
	maxDelay   time.Duration
	topics     map[string]bool
}

func NewRelay(consumer Consumer, bus *eventbus.Bus, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		consumer:   consumer,
		bus:        bus,
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
		maxDelay:   15 * time.Second,
		topics: map[string]bool{
			eventbus.TopicRequestsChanged:    true,
			eventbus.TopicForceRefresh:       true,
			eventbus.TopicFeatureFlagChanged: true,
		},
	}
}

// Run blocks until ctx is done or the consumer is closed. Read errors are
// logged and retried with a doubling delay that resets after a good read;
// frames with unknown types or bad JSON are skipped.
func (r *Relay) Run(ctx context.Context) error {
	delay := r.retryDelay
	for {
		msg, err := r.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrConsumerClosed) {
				return err
			}
			r.logger.Warn("relay read failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > r.maxDelay {
				delay = r.maxDelay
			}
			continue
		}
		delay = r.retryDelay
		r.Handle(msg)
	}
}

// Handle publishes one message and reports whether it was relayed.
func (r *Relay) Handle(msg Message) bool {
	var f Frame
	if err := json.Unmarshal(msg.Value, &f); err != nil {
		r.logger.Warn("relay decode failed", "error", err)
		return false
	}
	topic := strings.TrimSpace(f.Type)
	if !r.topics[topic] {
		return false
	}
	detail := f.Detail
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}
	r.bus.PublishRaw(topic, detail)
	return true
}
