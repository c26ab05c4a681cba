package spola

import "strings"

// MetricTable maps displayed metric names to payload paths. It is declared
// once at startup and applied to every sample at ingestion, so rendering
// never traverses payloads per draw.
type MetricTable map[string]string

// DefaultMetricTable covers the metrics the stock dashboard widgets display.
func DefaultMetricTable() MetricTable {
	return MetricTable{
		"speed":       "speed",
		"rpm":         "rpm",
		"gear":        "gear",
		"throttle":    "throttle",
		"brake":       "brake",
		"steering":    "steering",
		"lat_g":       "g_force.x",
		"long_g":      "g_force.z",
		"current_lap": "lap_number",
		"lap_time":    "current_lap_time",
		"fuel_level":  "fuel_level",
		"engine_temp": "engine_temp",
	}
}

// Extract computes the metric values for a payload. Metrics whose path is
// absent from the payload are omitted from the result.
func (t MetricTable) Extract(p Payload) map[string]float64 {
	out := make(map[string]float64, len(t))
	for name, path := range t {
		if v, ok := p.Num(path); ok {
			out[name] = v
		}
	}
	return out
}

// Sections returns the top-level payload sections the table reads, for use
// as a fetch field mask.
func (t MetricTable) Sections() FieldMask {
	sections := make([]string, 0, len(t))
	for _, path := range t {
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[:i]
		}
		sections = append(sections, path)
	}
	return NewFieldMask(sections...)
}
