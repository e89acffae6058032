package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the ingestion pipeline and
// the live fan-out.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the message handling path.
type Collector interface {
	IncReadingIngested()
	IncDecodeFailure()
	IncStoreWriteFailure()
	IncDroppedDelivery()
	SetLiveSubscribers(count int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncReadingIngested()    {}
func (noopCollector) IncDecodeFailure()      {}
func (noopCollector) IncStoreWriteFailure()  {}
func (noopCollector) IncDroppedDelivery()    {}
func (noopCollector) SetLiveSubscribers(int) {}

// PrometheusCollector exposes pipeline counters via Prometheus.
type PrometheusCollector struct {
	ingested        prometheus.Counter
	decodeFailures  prometheus.Counter
	writeFailures   prometheus.Counter
	droppedDelivery prometheus.Counter
	subscribers     prometheus.Gauge
}

var (
	registryLock     sync.Mutex
	ingestedCounter  prometheus.Counter
	decodeCounter    prometheus.Counter
	writeFailCounter prometheus.Counter
	droppedCounter   prometheus.Counter
	subscribersGauge prometheus.Gauge
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Passing nil uses the default registerer. Repeated registration
// reuses the existing collectors.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	registryLock.Lock()
	defer registryLock.Unlock()

	if ingestedCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "meteohub_readings_ingested_total",
			Help: "Number of readings normalized and routed by the ingestion pipeline.",
		})
		if err != nil {
			return nil, err
		}
		ingestedCounter = counter
	}
	if decodeCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "meteohub_payload_decode_failures_total",
			Help: "Number of inbound payloads that could not be decoded as JSON.",
		})
		if err != nil {
			return nil, err
		}
		decodeCounter = counter
	}
	if writeFailCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "meteohub_store_write_failures_total",
			Help: "Number of readings the durable store failed to accept.",
		})
		if err != nil {
			return nil, err
		}
		writeFailCounter = counter
	}
	if droppedCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "meteohub_live_dropped_deliveries_total",
			Help: "Number of live subscribers removed after a failed delivery.",
		})
		if err != nil {
			return nil, err
		}
		droppedCounter = counter
	}
	if subscribersGauge == nil {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meteohub_live_subscribers",
			Help: "Number of currently connected live subscribers.",
		})
		if err := reg.Register(gauge); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
					gauge = existing
				} else {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		subscribersGauge = gauge
	}

	return &PrometheusCollector{
		ingested:        ingestedCounter,
		decodeFailures:  decodeCounter,
		writeFailures:   writeFailCounter,
		droppedDelivery: droppedCounter,
		subscribers:     subscribersGauge,
	}, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (prometheus.Counter, error) {
	counter := prometheus.NewCounter(opts)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

// IncReadingIngested counts one successfully routed reading.
func (p *PrometheusCollector) IncReadingIngested() {
	if p == nil || p.ingested == nil {
		return
	}
	p.ingested.Inc()
}

// IncDecodeFailure counts one undecodable inbound payload.
func (p *PrometheusCollector) IncDecodeFailure() {
	if p == nil || p.decodeFailures == nil {
		return
	}
	p.decodeFailures.Inc()
}

// IncStoreWriteFailure counts one rejected durable write.
func (p *PrometheusCollector) IncStoreWriteFailure() {
	if p == nil || p.writeFailures == nil {
		return
	}
	p.writeFailures.Inc()
}

// IncDroppedDelivery counts one subscriber dropped after a failed delivery.
func (p *PrometheusCollector) IncDroppedDelivery() {
	if p == nil || p.droppedDelivery == nil {
		return
	}
	p.droppedDelivery.Inc()
}

// SetLiveSubscribers updates the connected subscriber gauge.
func (p *PrometheusCollector) SetLiveSubscribers(count int) {
	if p == nil || p.subscribers == nil {
		return
	}
	p.subscribers.Set(float64(count))
}
