// Package statebus carries server-side change notifications (kafka or a
// websocket feed) into the local event bus, the process analog of the
// browser's cross-tab refresh.
package statebus

import (
	"context"
	"errors"
)

// ErrConsumerClosed is returned by reads after Close.
var ErrConsumerClosed = errors.New("statebus: consumer closed")

type Message struct {
	Value []byte
}

type Consumer interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}
