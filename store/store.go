// Package store is the durable side of the pipeline: a narrow gateway
// contract for persisting readings and answering bounded range queries, plus
// its InfluxDB implementation.
package store

import (
	"context"

	"github.com/timzifer/meteohub/reading"
	"github.com/timzifer/meteohub/series"
)

// Writer accepts readings for durable storage. Persist is fire-and-forget:
// failures are the implementation's concern and must never block the caller.
type Writer interface {
	Persist(r reading.Reading)
}

// Querier answers bounded historical queries. The returned set covers the
// last rangeMinutes, optionally filtered to one device, with every metric
// sequence sorted ascending by timestamp.
type Querier interface {
	Query(ctx context.Context, rangeMinutes int, deviceID string) (series.Set, error)
}

// Gateway combines durable write and bounded read.
type Gateway interface {
	Writer
	Querier
}
