package series

import (
	"testing"
	"time"

	"github.com/timzifer/meteohub/reading"
)

func TestComputeStats(t *testing.T) {
	points := []TimePoint{{TS: 1, Value: 1}, {TS: 2, Value: 5}, {TS: 3, Value: 3}}
	stats, ok := ComputeStats(points)
	if !ok {
		t.Fatal("expected stats for non-empty sequence")
	}
	if stats.Min != 1 || stats.Max != 5 || stats.Avg != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	if _, ok := ComputeStats(nil); ok {
		t.Fatal("expected no stats for empty sequence")
	}
}

func TestDownsampleIdentityWhenShort(t *testing.T) {
	points := []TimePoint{{TS: 1, Value: 1}, {TS: 2, Value: 2}}
	result := Downsample(points, 10)
	if len(result) != 2 {
		t.Fatalf("expected identity, got %d points", len(result))
	}
	if result[0] != points[0] || result[1] != points[1] {
		t.Fatalf("identity must preserve points, got %+v", result)
	}
}

func TestDownsampleBucketsAverage(t *testing.T) {
	points := make([]TimePoint, 10)
	for i := range points {
		points[i] = TimePoint{TS: int64(i * 1000), Value: float64(i)}
	}
	result := Downsample(points, 5)
	if len(result) != 5 {
		t.Fatalf("expected 5 buckets, got %d", len(result))
	}
	// Bucket size is 2, so the first bucket averages points 0 and 1.
	if result[0].TS != 500 || result[0].Value != 0.5 {
		t.Fatalf("unexpected first bucket %+v", result[0])
	}
	if result[4].TS != 8500 || result[4].Value != 8.5 {
		t.Fatalf("unexpected last bucket %+v", result[4])
	}
}

func TestDownsampleCoversAllPointsOnce(t *testing.T) {
	points := make([]TimePoint, 7)
	total := 0.0
	for i := range points {
		points[i] = TimePoint{TS: int64(i), Value: float64(i + 1)}
		total += float64(i + 1)
	}
	result := Downsample(points, 3)
	if len(result) > 3 {
		t.Fatalf("expected at most 3 points, got %d", len(result))
	}
	// Buckets of ceil(7/3)=3 points: sizes 3, 3, 1. Weighted bucket sums must
	// account for every input point exactly once.
	weighted := result[0].Value*3 + result[1].Value*3 + result[2].Value*1
	if diff := weighted - total; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("buckets do not cover input exactly once: %v != %v", weighted, total)
	}
}

func TestDownsampleDeterministic(t *testing.T) {
	points := make([]TimePoint, 100)
	for i := range points {
		points[i] = TimePoint{TS: int64(i * 10), Value: float64(i % 7)}
	}
	first := Downsample(points, 9)
	second := Downsample(points, 9)
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("point %d differs: %+v != %+v", i, first[i], second[i])
		}
	}
}

func TestFindClosest(t *testing.T) {
	points := []TimePoint{{TS: 10, Value: 1}, {TS: 20, Value: 2}}

	got, ok := FindClosest(points, 19)
	if !ok || got.TS != 20 {
		t.Fatalf("expected point at ts=20, got %+v ok=%v", got, ok)
	}

	// Equidistant target resolves to the first point in sequence order.
	got, ok = FindClosest(points, 15)
	if !ok || got.TS != 10 {
		t.Fatalf("tie must keep the earlier point, got %+v ok=%v", got, ok)
	}

	if _, ok := FindClosest(nil, 15); ok {
		t.Fatal("expected no result for empty sequence")
	}
}

func TestRetentionTrim(t *testing.T) {
	points := []TimePoint{{TS: 30000, Value: 1}, {TS: 50000, Value: 2}}
	kept := RetentionTrim(points, 100000, 60*time.Second)
	if len(kept) != 1 {
		t.Fatalf("expected 1 point, got %d", len(kept))
	}
	if kept[0].TS != 50000 {
		t.Fatalf("expected the ts=50000 point to survive, got %+v", kept[0])
	}
}

func TestAppendBounded(t *testing.T) {
	var points []TimePoint
	for i := 0; i < 5; i++ {
		points = AppendBounded(points, TimePoint{TS: int64(i)}, 3)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[0].TS != 2 || points[2].TS != 4 {
		t.Fatalf("expected oldest points dropped, got %+v", points)
	}
}

func TestEmptySetHasAllMetrics(t *testing.T) {
	set := EmptySet()
	if len(set) != len(reading.MetricKeys()) {
		t.Fatalf("expected %d metrics, got %d", len(reading.MetricKeys()), len(set))
	}
	for key, points := range set {
		if points == nil {
			t.Fatalf("%s: sequence must be non-nil", key)
		}
		if len(points) != 0 {
			t.Fatalf("%s: sequence must be empty", key)
		}
	}
}

func TestSortAscendingStable(t *testing.T) {
	set := Set{
		reading.MetricBmpTemperature: {{TS: 30, Value: 3}, {TS: 10, Value: 1}, {TS: 30, Value: 4}},
	}
	set.SortAscending()
	points := set[reading.MetricBmpTemperature]
	if points[0].TS != 10 {
		t.Fatalf("expected ascending order, got %+v", points)
	}
	if points[1].Value != 3 || points[2].Value != 4 {
		t.Fatalf("equal timestamps must keep input order, got %+v", points)
	}
}

func TestHPaToMmHg(t *testing.T) {
	got := HPaToMmHg(1000)
	if got != 750.06 {
		t.Fatalf("expected 750.06, got %v", got)
	}
}
