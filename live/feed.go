// Package live fans readings out to connected subscribers, best effort and
// independent of persistence.
package live

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/reading"
	"github.com/timzifer/meteohub/telemetry"
)

// Subscriber is one connected viewer. Send must return an error when the
// message cannot be delivered; the feed then drops the subscriber.
type Subscriber interface {
	// Ready reports whether the subscriber can currently accept a delivery.
	// Not-ready subscribers are skipped, not queued.
	Ready() bool
	Send(payload []byte) error
}

// Feed owns the set of live subscribers and their lifecycle. Delivery
// failures remove the offending subscriber without interrupting the
// broadcast to the rest.
type Feed struct {
	logger    zerolog.Logger
	collector telemetry.Collector

	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// NewFeed creates an empty fan-out.
func NewFeed(logger zerolog.Logger, collector telemetry.Collector) *Feed {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Feed{
		logger:    logger,
		collector: collector,
		subs:      make(map[Subscriber]struct{}),
	}
}

// Subscribe adds a subscriber to the broadcast set.
func (f *Feed) Subscribe(sub Subscriber) {
	if f == nil || sub == nil {
		return
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	count := len(f.subs)
	f.mu.Unlock()
	f.collector.SetLiveSubscribers(count)
	f.logger.Debug().Int("subscribers", count).Msg("live: subscriber added")
}

// Unsubscribe removes a subscriber. Unknown handles are ignored.
func (f *Feed) Unsubscribe(sub Subscriber) {
	if f == nil || sub == nil {
		return
	}
	f.mu.Lock()
	delete(f.subs, sub)
	count := len(f.subs)
	f.mu.Unlock()
	f.collector.SetLiveSubscribers(count)
	f.logger.Debug().Int("subscribers", count).Msg("live: subscriber removed")
}

// Count returns the current subscriber count.
func (f *Feed) Count() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Publish delivers the reading to every ready subscriber. A subscriber whose
// delivery fails is removed after that single failure; remaining subscribers
// still receive the message. Delivery order across subscribers is undefined.
func (f *Feed) Publish(r reading.Reading) {
	if f == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		f.logger.Error().Err(err).Msg("live: encode reading failed")
		return
	}

	f.mu.Lock()
	targets := make([]Subscriber, 0, len(f.subs))
	for sub := range f.subs {
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	var failed []Subscriber
	for _, sub := range targets {
		if !sub.Ready() {
			continue
		}
		if err := sub.Send(payload); err != nil {
			f.logger.Warn().Err(err).Msg("live: delivery failed, dropping subscriber")
			failed = append(failed, sub)
		}
	}
	if len(failed) == 0 {
		return
	}

	f.mu.Lock()
	for _, sub := range failed {
		delete(f.subs, sub)
	}
	count := len(f.subs)
	f.mu.Unlock()
	for range failed {
		f.collector.IncDroppedDelivery()
	}
	f.collector.SetLiveSubscribers(count)
}
