// Package spola provides buffering and windowing for time-ordered telemetry
// samples feeding a real-time visualization client. It covers two regimes: a
// continuous live stream held in a fixed-capacity ring buffer, and a finite
// recorded session served by a demand-paged replay cache (see the replaycache
// subpackage). Both expose the same window-query contract so rendering code
// can extract a bounded, ordered slice of samples without caring about the
// source.
package spola

import (
	"github.com/tidwall/gjson"
)

// Payload is an opaque structured telemetry record, held as raw JSON.
// Buffers store payloads verbatim and never interpret them; the only way in
// is the narrow path accessor below.
type Payload []byte

// Num returns the numeric value at the given gjson path, or false if the
// path is absent or not a number.
func (p Payload) Num(path string) (float64, bool) {
	r := gjson.GetBytes(p, path)
	if r.Type != gjson.Number {
		return 0, false
	}
	return r.Float(), true
}

// Str returns the string value at the given gjson path, or false if absent.
func (p Payload) Str(path string) (string, bool) {
	r := gjson.GetBytes(p, path)
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// Sample is a single processed telemetry entry. Metrics are extracted once
// at ingestion; the payload keeps everything else for detail views.
type Sample struct {
	TimestampMs int64              // milliseconds, monotonic non-decreasing within a buffer
	Metrics     map[string]float64 // precomputed metric values
	Payload     Payload            // full telemetry record
}

// IndexedSample pairs a sample with its frame index in a recorded session.
type IndexedSample struct {
	Frame  int
	Sample Sample
}

// Window is the contract both buffers expose to rendering consumers: a
// bounded, ordered view of samples covering a requested time span.
//
// At yields nil for positions that are out of range or not yet loaded;
// consumers must treat nil as "loading", not as an error. Live windows
// anchor their trailing edge at AnchorMs ("now"); replay windows center on
// the cursor's time.
type Window struct {
	Count    int
	AnchorMs int64
	At       func(i int) *Sample
}

// EmptyWindow returns a zero-length window anchored at the given time.
func EmptyWindow(anchorMs int64) Window {
	return Window{
		Count:    0,
		AnchorMs: anchorMs,
		At:       func(int) *Sample { return nil },
	}
}
