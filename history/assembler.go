// Package history answers bounded "last N minutes" queries against the store
// gateway and reshapes the result for chart consumers.
package history

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
	"github.com/timzifer/meteohub/series"
	"github.com/timzifer/meteohub/store"
)

// ErrInvalidRange rejects a minutes parameter that is not a finite positive
// number. This is the only user-visible error the core produces.
var ErrInvalidRange = errors.New("history: minutes must be a positive number")

// Result is the caller-facing answer to one history query. Points always
// carries every recognized metric, possibly with empty sequences.
type Result struct {
	RangeMinutes int        `json:"rangeMinutes"`
	DeviceID     *string    `json:"deviceId"`
	Points       series.Set `json:"points"`
}

// Assembler validates and clamps history requests and delegates to the store
// gateway. Gateway failures degrade to the all-empty set so the caller always
// receives a well-formed response.
type Assembler struct {
	store      store.Querier
	maxMinutes int
	logger     zerolog.Logger
}

// New builds an assembler bounded by the configured range ceiling.
func New(querier store.Querier, cfg config.HistoryConfig, logger zerolog.Logger) *Assembler {
	maxMinutes := cfg.MaxMinutes
	if maxMinutes <= 0 {
		maxMinutes = 12 * 60
	}
	return &Assembler{store: querier, maxMinutes: maxMinutes, logger: logger}
}

// MaxMinutes returns the range ceiling applied to every query.
func (a *Assembler) MaxMinutes() int {
	if a == nil {
		return 0
	}
	return a.maxMinutes
}

// GetHistory answers a query for the last minutes of data, optionally
// filtered to one device. The requested range is rounded down to whole
// minutes and clamped to the ceiling; callers may ask for more, they never
// receive more. The context cancels an in-flight store query when the
// requester goes away.
func (a *Assembler) GetHistory(ctx context.Context, minutes float64, deviceID string) (Result, error) {
	if a == nil {
		return Result{}, errors.New("history: assembler is nil")
	}
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return Result{}, ErrInvalidRange
	}

	rangeMinutes := int(math.Floor(minutes))
	if rangeMinutes > a.maxMinutes {
		rangeMinutes = a.maxMinutes
	}
	if rangeMinutes < 1 {
		rangeMinutes = 1
	}

	result := Result{RangeMinutes: rangeMinutes, Points: series.EmptySet()}
	if deviceID != "" {
		id := deviceID
		result.DeviceID = &id
	}

	if a.store == nil {
		return result, nil
	}
	set, err := a.store.Query(ctx, rangeMinutes, deviceID)
	if err != nil {
		a.logger.Error().Err(err).Int("range_minutes", rangeMinutes).Msg("history: store query failed")
		return result, nil
	}
	result.Points = set
	return result, nil
}
