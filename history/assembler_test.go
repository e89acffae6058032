package history

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
	"github.com/timzifer/meteohub/reading"
	"github.com/timzifer/meteohub/series"
)

type fakeQuerier struct {
	lastRange  int
	lastDevice string
	set        series.Set
	err        error
}

func (q *fakeQuerier) Query(_ context.Context, rangeMinutes int, deviceID string) (series.Set, error) {
	q.lastRange = rangeMinutes
	q.lastDevice = deviceID
	if q.err != nil {
		return series.EmptySet(), q.err
	}
	return q.set, nil
}

func newAssembler(q *fakeQuerier) *Assembler {
	return New(q, config.HistoryConfig{MaxMinutes: 720, DefaultMinutes: 15}, zerolog.Nop())
}

func TestGetHistoryRejectsInvalidRange(t *testing.T) {
	assembler := newAssembler(&fakeQuerier{})
	for _, minutes := range []float64{-5, 0, math.NaN(), math.Inf(1)} {
		if _, err := assembler.GetHistory(context.Background(), minutes, ""); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("minutes=%v: expected ErrInvalidRange, got %v", minutes, err)
		}
	}
}

func TestGetHistoryClampsToCeiling(t *testing.T) {
	querier := &fakeQuerier{set: series.EmptySet()}
	assembler := newAssembler(querier)

	result, err := assembler.GetHistory(context.Background(), 99999, "")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if result.RangeMinutes != 720 {
		t.Fatalf("expected clamp to 720, got %d", result.RangeMinutes)
	}
	if querier.lastRange != 720 {
		t.Fatalf("store must see the clamped range, got %d", querier.lastRange)
	}
}

func TestGetHistoryFlooredAndRaisedToOne(t *testing.T) {
	querier := &fakeQuerier{set: series.EmptySet()}
	assembler := newAssembler(querier)

	result, err := assembler.GetHistory(context.Background(), 0.5, "")
	if err != nil {
		t.Fatalf("fractional minutes are valid: %v", err)
	}
	if result.RangeMinutes != 1 {
		t.Fatalf("expected floor raised to 1, got %d", result.RangeMinutes)
	}

	result, err = assembler.GetHistory(context.Background(), 15.9, "")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if result.RangeMinutes != 15 {
		t.Fatalf("expected floor to 15, got %d", result.RangeMinutes)
	}
}

func TestGetHistoryPassesDeviceFilter(t *testing.T) {
	querier := &fakeQuerier{set: series.EmptySet()}
	assembler := newAssembler(querier)

	result, err := assembler.GetHistory(context.Background(), 15, "esp32-01")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if querier.lastDevice != "esp32-01" {
		t.Fatalf("store must see the device filter, got %q", querier.lastDevice)
	}
	if result.DeviceID == nil || *result.DeviceID != "esp32-01" {
		t.Fatalf("result must echo the device filter, got %v", result.DeviceID)
	}

	result, err = assembler.GetHistory(context.Background(), 15, "")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if result.DeviceID != nil {
		t.Fatalf("absent filter must encode as null, got %v", *result.DeviceID)
	}
}

func TestGetHistoryDegradesOnStoreFailure(t *testing.T) {
	querier := &fakeQuerier{err: errors.New("store down")}
	assembler := newAssembler(querier)

	result, err := assembler.GetHistory(context.Background(), 15, "")
	if err != nil {
		t.Fatalf("store failure must not propagate: %v", err)
	}
	if len(result.Points) != len(reading.MetricKeys()) {
		t.Fatalf("expected all-empty set, got %d metrics", len(result.Points))
	}
	for key, points := range result.Points {
		if len(points) != 0 {
			t.Fatalf("%s: expected empty sequence", key)
		}
	}
}

func TestGetHistoryReturnsStoreData(t *testing.T) {
	set := series.EmptySet()
	set[reading.MetricBmpTemperature] = []series.TimePoint{{TS: 1000, Value: 21.5}}
	querier := &fakeQuerier{set: set}
	assembler := newAssembler(querier)

	result, err := assembler.GetHistory(context.Background(), 15, "")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	points := result.Points[reading.MetricBmpTemperature]
	if len(points) != 1 || points[0].Value != 21.5 {
		t.Fatalf("unexpected points %+v", points)
	}
}
