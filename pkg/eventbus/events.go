package eventbus

import "encoding/json"

// RequestsChanged is the detail of TopicRequestsChanged. Timestamp is unix
// milliseconds.
type RequestsChanged struct {
	RequestID     string `json:"requestId,omitempty"`
	Action        string `json:"action,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	ShouldRefresh bool   `json:"shouldRefresh,omitempty"`
	ForceRefresh  bool   `json:"forceRefresh,omitempty"`
}

type ForceRefresh struct {
	RequestID string `json:"requestId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type FeatureFlagChanged struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}

// Decode reads an event detail into T. Missing or malformed details give
// the zero value.
func Decode[T any](ev Event) T {
	var out T
	if len(ev.Detail) > 0 {
		_ = json.Unmarshal(ev.Detail, &out)
	}
	return out
}

func (b *Bus) PublishRequestsChanged(ev RequestsChanged) {
	_ = b.Publish(TopicRequestsChanged, ev)
}

func (b *Bus) PublishForceRefresh(ev ForceRefresh) {
	_ = b.Publish(TopicForceRefresh, ev)
}

func (b *Bus) PublishFeatureFlagChanged(ev FeatureFlagChanged) {
	_ = b.Publish(TopicFeatureFlagChanged, ev)
}

func (b *Bus) OnRequestsChanged(fn func(RequestsChanged)) func() {
	return b.Subscribe(TopicRequestsChanged, func(ev Event) { fn(Decode[RequestsChanged](ev)) })
}

func (b *Bus) OnForceRefresh(fn func(ForceRefresh)) func() {
	return b.Subscribe(TopicForceRefresh, func(ev Event) { fn(Decode[ForceRefresh](ev)) })
}

func (b *Bus) OnFeatureFlagChanged(fn func(FeatureFlagChanged)) func() {
	return b.Subscribe(TopicFeatureFlagChanged, func(ev Event) { fn(Decode[FeatureFlagChanged](ev)) })
}
