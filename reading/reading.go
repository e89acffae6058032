// Package reading defines the normalized telemetry sample and the coercion
// rules that turn arbitrary device payloads into typed readings.
package reading

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// MetricKey names one numeric channel within a reading.
type MetricKey string

const (
	// MetricBmpTemperature is the BMP280 temperature in degrees Celsius.
	MetricBmpTemperature MetricKey = "bmp_t"
	// MetricBmpPressure is the BMP280 station pressure in hPa.
	MetricBmpPressure MetricKey = "bmp_p"
	// MetricBmpQNH is the sea-level adjusted pressure in hPa.
	MetricBmpQNH MetricKey = "bmp_qnh"
	// MetricAhtTemperature is the AHT20 temperature in degrees Celsius.
	MetricAhtTemperature MetricKey = "aht_t"
	// MetricAhtHumidity is the AHT20 relative humidity in percent.
	MetricAhtHumidity MetricKey = "aht_h"
	// MetricMQ135 is the MQ-135 gas sensor raw channel.
	MetricMQ135 MetricKey = "mq135"
	// MetricMQ3 is the MQ-3 gas sensor raw channel.
	MetricMQ3 MetricKey = "mq3"
)

var metricKeys = []MetricKey{
	MetricBmpTemperature,
	MetricBmpPressure,
	MetricBmpQNH,
	MetricAhtTemperature,
	MetricAhtHumidity,
	MetricMQ135,
	MetricMQ3,
}

// MetricKeys returns the closed set of recognized metric names in wire order.
func MetricKeys() []MetricKey {
	keys := make([]MetricKey, len(metricKeys))
	copy(keys, metricKeys)
	return keys
}

// IsMetricKey reports whether name belongs to the recognized metric set.
func IsMetricKey(name string) bool {
	for _, key := range metricKeys {
		if string(key) == name {
			return true
		}
	}
	return false
}

// Reading is one normalized multi-metric sample from one device at one
// instant. Metric fields are nil when the device did not report a valid value
// for that channel; partial readings are expected.
type Reading struct {
	DeviceID  string    `json:"deviceId"`
	BmpT      *float64  `json:"bmp_t"`
	BmpP      *float64  `json:"bmp_p"`
	BmpQNH    *float64  `json:"bmp_qnh"`
	AhtT      *float64  `json:"aht_t"`
	AhtH      *float64  `json:"aht_h"`
	MQ135     *float64  `json:"mq135"`
	MQ3       *float64  `json:"mq3"`
	Timestamp time.Time `json:"ts"`
}

// Metric returns the value for the given key and whether it is present.
func (r Reading) Metric(key MetricKey) (float64, bool) {
	ptr := r.metricPtr(key)
	if ptr == nil || *ptr == nil {
		return 0, false
	}
	return **ptr, true
}

// SetMetric stores a present value for the given key. Unknown keys are ignored.
func (r *Reading) SetMetric(key MetricKey, value float64) {
	ptr := r.metricPtr(key)
	if ptr == nil {
		return
	}
	v := value
	*ptr = &v
}

func (r *Reading) metricPtr(key MetricKey) **float64 {
	switch key {
	case MetricBmpTemperature:
		return &r.BmpT
	case MetricBmpPressure:
		return &r.BmpP
	case MetricBmpQNH:
		return &r.BmpQNH
	case MetricAhtTemperature:
		return &r.AhtT
	case MetricAhtHumidity:
		return &r.AhtH
	case MetricMQ135:
		return &r.MQ135
	case MetricMQ3:
		return &r.MQ3
	default:
		return nil
	}
}

// Normalize converts an untyped decoded payload into a Reading. It never
// fails: malformed fields degrade to absent metrics, an unparsable timestamp
// falls back to the ingestion instant now.
func Normalize(raw map[string]any, now time.Time) Reading {
	r := Reading{Timestamp: now}
	if raw == nil {
		return r
	}
	r.DeviceID = deviceID(raw["deviceId"])
	for _, key := range metricKeys {
		if value, ok := ToNumber(raw[string(key)]); ok {
			r.SetMetric(key, value)
		}
	}
	if ts, ok := parseTimestamp(raw["ts"]); ok {
		r.Timestamp = ts
	}
	return r
}

// ToNumber coerces an untyped field to a finite float64. Numeric zero counts
// as present; null, empty strings, booleans that are false, and anything that
// does not coerce to a finite number count as absent.
func ToNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, isFinite(v)
	case float32:
		return float64(v), isFinite(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, isFinite(f)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return f, isFinite(f)
	case bool:
		if v {
			return 1, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// deviceID renders the identifier as a string tag. Numeric identifiers keep
// their decimal representation so that "42" and 42 address the same device.
func deviceID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func parseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	case float64:
		if !isFinite(v) || v <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)), true
	case json.Number:
		ms, err := v.Float64()
		if err != nil || !isFinite(ms) || ms <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)), true
	default:
		return time.Time{}, false
	}
}
