package spola

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadNum(t *testing.T) {
	t.Parallel()

	p := Payload(`{"speed":42.5,"gear":3,"g_force":{"x":1.2,"z":-0.4},"track_name":"suzuka"}`)

	testCases := []struct {
		path string
		want float64
		ok   bool
	}{
		{"speed", 42.5, true},
		{"gear", 3, true},
		{"g_force.x", 1.2, true},
		{"g_force.z", -0.4, true},
		{"g_force.y", 0, false},
		{"missing", 0, false},
		{"track_name", 0, false}, // strings are not numbers
	}

	for _, tc := range testCases {
		v, ok := p.Num(tc.path)
		assert.Equal(t, tc.ok, ok, "path %q presence", tc.path)
		assert.Equal(t, tc.want, v, "path %q value", tc.path)
	}
}

func TestPayloadStr(t *testing.T) {
	t.Parallel()

	p := Payload(`{"track_name":"suzuka","timestamp":"2024-03-01T10:00:00Z"}`)

	name, ok := p.Str("track_name")
	require.True(t, ok)
	assert.Equal(t, "suzuka", name)

	_, ok = p.Str("missing")
	assert.False(t, ok)
}

func TestMetricTableExtract(t *testing.T) {
	t.Parallel()

	table := DefaultMetricTable()
	p := Payload(`{"speed":55.0,"rpm":7200,"gear":4,"throttle":0.9,"brake":0,"g_force":{"x":1.1,"z":-0.2}}`)

	m := table.Extract(p)

	assert.Equal(t, 55.0, m["speed"])
	assert.Equal(t, 7200.0, m["rpm"])
	assert.Equal(t, 4.0, m["gear"])
	assert.Equal(t, 0.9, m["throttle"])
	assert.Equal(t, 0.0, m["brake"])
	assert.Equal(t, 1.1, m["lat_g"])
	assert.Equal(t, -0.2, m["long_g"])

	// absent paths are omitted, not zeroed
	_, ok := m["fuel_level"]
	assert.False(t, ok, "metrics missing from the payload should be omitted")
}

func TestMetricTableSections(t *testing.T) {
	t.Parallel()

	table := MetricTable{
		"speed":  "speed",
		"lat_g":  "g_force.x",
		"long_g": "g_force.z",
	}

	mask := table.Sections()
	assert.True(t, mask.Includes("speed"))
	assert.True(t, mask.Includes("g_force"), "nested paths should contribute their top-level section")
	assert.False(t, mask.Includes("g_force.x"), "mask entries are top-level sections only")
	assert.False(t, mask.Includes("rpm"))
}
