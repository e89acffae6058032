// Package series contains the pure time-series transformations used to shape
// stored and live readings into chart-ready sequences: rolling statistics,
// downsampling, closest-point lookup and retention trimming.
package series

import (
	"math"
	"sort"
	"time"

	"github.com/timzifer/meteohub/reading"
)

// DefaultMaxPoints is the rendering budget applied when a caller does not
// request a specific downsampling target.
const DefaultMaxPoints = 240

// TimePoint is one (timestamp, value) pair. Timestamps are unix milliseconds;
// values are always finite. Absence is represented by a point not existing in
// a sequence, never by a placeholder value.
type TimePoint struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// Set maps each recognized metric to its ordered point sequence for one query
// window.
type Set map[reading.MetricKey][]TimePoint

// EmptySet returns a set with an empty (non-nil) sequence for every
// recognized metric, so callers and JSON consumers always see all keys.
func EmptySet() Set {
	set := make(Set, len(reading.MetricKeys()))
	for _, key := range reading.MetricKeys() {
		set[key] = []TimePoint{}
	}
	return set
}

// SortAscending orders every sequence in the set by timestamp. Equal
// timestamps keep their relative input order.
func (s Set) SortAscending() {
	for _, points := range s {
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].TS < points[j].TS
		})
	}
}

// Stats summarizes a point sequence.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// ComputeStats calculates min, max and mean in a single pass. The second
// return value is false for an empty sequence.
func ComputeStats(points []TimePoint) (Stats, bool) {
	if len(points) == 0 {
		return Stats{}, false
	}
	stats := Stats{Min: points[0].Value, Max: points[0].Value}
	sum := 0.0
	for _, p := range points {
		if p.Value < stats.Min {
			stats.Min = p.Value
		}
		if p.Value > stats.Max {
			stats.Max = p.Value
		}
		sum += p.Value
	}
	stats.Avg = sum / float64(len(points))
	return stats, true
}

// Downsample reduces a sequence to at most maxPoints points while preserving
// its overall shape. Short sequences are returned unchanged. Longer ones are
// partitioned into contiguous buckets of ceil(len/maxPoints) points, each
// replaced by the arithmetic mean of its members' timestamps and values.
func Downsample(points []TimePoint, maxPoints int) []TimePoint {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}
	bucketSize := (len(points) + maxPoints - 1) / maxPoints
	result := make([]TimePoint, 0, (len(points)+bucketSize-1)/bucketSize)
	for start := 0; start < len(points); start += bucketSize {
		end := start + bucketSize
		if end > len(points) {
			end = len(points)
		}
		bucket := points[start:end]
		sumTS := 0.0
		sumValue := 0.0
		for _, p := range bucket {
			sumTS += float64(p.TS)
			sumValue += p.Value
		}
		count := float64(len(bucket))
		result = append(result, TimePoint{
			TS:    int64(sumTS / count),
			Value: sumValue / count,
		})
	}
	return result
}

// FindClosest returns the point with the minimum absolute timestamp distance
// to targetTS. Ties resolve to the earliest point in sequence order. The
// second return value is false for an empty sequence.
func FindClosest(points []TimePoint, targetTS int64) (TimePoint, bool) {
	if len(points) == 0 {
		return TimePoint{}, false
	}
	best := points[0]
	bestDiff := absDiff(best.TS, targetTS)
	for _, p := range points[1:] {
		if diff := absDiff(p.TS, targetTS); diff < bestDiff {
			best = p
			bestDiff = diff
		}
	}
	return best, true
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// RetentionTrim drops every point older than the retention window, bounding a
// client-held live buffer to a fixed wall-clock span regardless of ingestion
// rate. Points with ts >= now-window are kept.
func RetentionTrim(points []TimePoint, now int64, window time.Duration) []TimePoint {
	cutoff := now - window.Milliseconds()
	kept := make([]TimePoint, 0, len(points))
	for _, p := range points {
		if p.TS >= cutoff {
			kept = append(kept, p)
		}
	}
	return kept
}

// AppendBounded appends a point and discards the oldest entries beyond
// maxPoints, for live buffers bounded by count rather than wall clock.
func AppendBounded(points []TimePoint, p TimePoint, maxPoints int) []TimePoint {
	points = append(points, p)
	if maxPoints > 0 && len(points) > maxPoints {
		points = points[len(points)-maxPoints:]
	}
	return points
}

// HPaToMmHg converts a pressure value from hectopascal to millimetres of
// mercury.
func HPaToMmHg(v float64) float64 {
	return v * 0.75006
}

// IsFinite reports whether v is a usable sample value.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
