package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/segmentio/kafka-go"

	"github.com/Pkv562/UNITE/pkg/httpx"
	"github.com/Pkv562/UNITE/pkg/stream"
)

func (s *server) publish(ctx context.Context, topic, key string, detail any) {
	evt := stream.NewEvent(topic, key, detail)
	s.hub.Publish(evt)
	s.metrics.SetGauge("ws_subscribers", float64(s.hub.Subscribers()))
	s.metrics.SetGauge("ws_dropped_frames", float64(s.hub.Dropped()))
	if s.publisher == nil {
		return
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return
	}
	// The mutation already succeeded; a slow broker must not hold the response.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.publisher.WriteMessages(writeCtx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		s.logger.Warn("change event publish failed", "topic", topic, "key", key, "error", err)
	}
}

func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	// Browser clients on any CORS origin may also open the feed.
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.WSOrigins}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = httpx.ParseOrigins(s.cfg.CORSOrigins).Hosts()
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// ?requestId= narrows the feed to one request, as a detail view would.
	sub := s.hub.Subscribe(r.URL.Query().Get("requestId"), 64)
	defer s.hub.Unsubscribe(sub)
	s.metrics.SetGauge("ws_subscribers", float64(s.hub.Subscribers()))

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", "", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
