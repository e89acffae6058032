// Package ingest wires inbound telemetry messages to the durable store and
// the live fan-out. It is the pipeline's single write-amplification point.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/reading"
	"github.com/timzifer/meteohub/store"
	"github.com/timzifer/meteohub/telemetry"
)

// Publisher receives each normalized reading for live delivery.
type Publisher interface {
	Publish(r reading.Reading)
}

// Pipeline routes each inbound message through decode and normalization into
// two independent best-effort side effects: durable persistence and live
// publish. Neither blocks, masks or suppresses the other, and a malformed
// message never stalls the pipeline.
type Pipeline struct {
	store     store.Writer
	feed      Publisher
	logger    zerolog.Logger
	collector telemetry.Collector
	now       func() time.Time
}

// NewPipeline builds the routing stage.
func NewPipeline(writer store.Writer, feed Publisher, logger zerolog.Logger, collector telemetry.Collector) *Pipeline {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Pipeline{
		store:     writer,
		feed:      feed,
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}
}

// HandleMessage processes one inbound transport message to completion. The
// store write is asynchronous inside the gateway, so persistence never delays
// the live push; both outcomes are handled in isolation.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	if p == nil {
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		p.collector.IncDecodeFailure()
		p.logger.Error().Err(err).Str("topic", topic).Msg("ingest: failed to decode message")
		return
	}

	r := reading.Normalize(raw, p.now())

	if p.store != nil {
		p.store.Persist(r)
	}
	if p.feed != nil {
		p.feed.Publish(r)
	}
	p.collector.IncReadingIngested()
	p.logger.Debug().Str("device", r.DeviceID).Time("ts", r.Timestamp).Msg("ingest: reading routed")
}
