// Package demo generates synthetic telemetry without a real session behind
// it. It simulates laps around a circuit with straights, braking zones,
// corners, and acceleration phases, and serves them both as a replayable
// frame source and as a live feed.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/alesr/spola"
	"github.com/alesr/spola/replaycache"
)

const (
	defaultTickRate    = 60
	defaultTotalFrames = 18000 // five minutes at 60Hz

	fuelCapacityLiters = 60.0
)

// Source produces deterministic synthetic frames: the same frame index
// always yields the same payload, so cached and re-fetched ranges agree.
// It satisfies replaycache.FrameSource.
type Source struct {
	track       []trackSegment
	lapDuration float64
	tickRate    int
	totalFrames int
	metrics     spola.MetricTable
	trackName   string
	carName     string
}

var _ replaycache.FrameSource = (*Source)(nil)

// SourceOption defines an option for configuring Source.
type SourceOption func(*Source)

// WithTickRate sets the simulated sampling rate in frames per second.
func WithTickRate(hz int) SourceOption {
	return func(s *Source) {
		if hz > 0 {
			s.tickRate = hz
		}
	}
}

// WithTotalFrames sets the length of the simulated recording.
func WithTotalFrames(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.totalFrames = n
		}
	}
}

// WithMetricTable sets the metric table applied to generated payloads.
func WithMetricTable(table spola.MetricTable) SourceOption {
	return func(s *Source) {
		if table != nil {
			s.metrics = table
		}
	}
}

// NewSource creates a new Source instance.
func NewSource(opts ...SourceOption) *Source {
	track := demoTrack()
	s := &Source{
		track:       track,
		lapDuration: trackDuration(track),
		tickRate:    defaultTickRate,
		totalFrames: defaultTotalFrames,
		metrics:     spola.DefaultMetricTable(),
		trackName:   "Demo Circuit",
		carName:     "Formula Demo",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session describes the simulated recording in the shape the replay cache
// adopts.
func (s *Source) Session() replaycache.Session {
	return replaycache.Session{
		TotalFrames: s.totalFrames,
		TickRate:    s.tickRate,
		Speed:       1,
	}
}

// TrackName returns the simulated circuit name.
func (s *Source) TrackName() string { return s.trackName }

// CarName returns the simulated car name.
func (s *Source) CarName() string { return s.carName }

// Frames generates count frames starting at start, clipped to the recording
// length. Frame indices in the result are ascending and contiguous.
func (s *Source) Frames(ctx context.Context, start, count int, mask spola.FieldMask) ([]spola.IndexedSample, error) {
	if start < 0 {
		count += start
		start = 0
	}
	if start >= s.totalFrames || count <= 0 {
		return nil, nil
	}
	if start+count > s.totalFrames {
		count = s.totalFrames - start
	}

	frames := make([]spola.IndexedSample, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame := start + i
		payload, err := s.payloadAt(frame, mask)
		if err != nil {
			return nil, fmt.Errorf("could not generate frame %d: %w", frame, err)
		}
		frames = append(frames, spola.IndexedSample{
			Frame: frame,
			Sample: spola.Sample{
				TimestampMs: int64(frame) * 1000 / int64(s.tickRate),
				Metrics:     s.metrics.Extract(payload),
				Payload:     payload,
			},
		})
	}
	return frames, nil
}

// payloadAt renders the frame's telemetry record, thinned to the sections
// the mask includes.
func (s *Source) payloadAt(frame int, mask spola.FieldMask) (spola.Payload, error) {
	record := s.recordAt(frame)
	if !mask.IsAll() {
		for key := range record {
			if !mask.Includes(key) {
				delete(record, key)
			}
		}
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return spola.Payload(b), nil
}

// recordAt computes the full telemetry record for a frame index. All values
// derive from the frame number alone.
func (s *Source) recordAt(frame int) map[string]any {
	elapsed := float64(frame) / float64(s.tickRate)
	n := float64(frame) // noise seed

	lapTime := math.Mod(elapsed, s.lapDuration)
	lapNumber := int(elapsed/s.lapDuration) + 1

	state := computeLapState(s.track, lapTime)

	// Small noise on top of the interpolated state for realism.
	speed := math.Max(state.speed+jitter(n, 0.3), 0)
	rpm := clamp(state.rpm+jitter(n*1.1, 30.0), 1200.0, 8000.0)
	throttle := clamp(state.throttle+jitter(n*1.2, 0.02), 0, 1)
	brake := clamp(state.brake+jitter(n*1.3, 0.02), 0, 1)
	steering := state.steering + jitter(n*1.4, 0.005)
	latG := state.latG + jitter(n*1.5, 0.05)
	longG := state.longG + jitter(n*1.6, 0.03)

	fuelRemaining := math.Max(fuelCapacityLiters*(1.0-elapsed*0.00015), 0)

	return map[string]any{
		"tick":             frame,
		"speed":            speed,
		"rpm":              rpm,
		"max_rpm":          8000.0,
		"gear":             state.gear,
		"throttle":         throttle,
		"brake":            brake,
		"steering":         steering,
		"g_force":          map[string]any{"x": latG, "y": -1.0 + jitter(n*4.0, 0.02), "z": longG},
		"lap_number":       lapNumber,
		"current_lap_time": lapTime,
		"lap_distance_pct": lapTime / s.lapDuration,
		"fuel_level":       fuelRemaining,
		"fuel_level_pct":   fuelRemaining / fuelCapacityLiters,
		"engine_temp":      88.0 + rpm*0.0005 + speed*0.02 + jitter(n*5.0, 0.3),
		"oil_temp":         102.0 + rpm*0.0004 + jitter(n*5.1, 0.2),
		"track_name":       s.trackName,
		"car_name":         s.carName,
	}
}

// Feed pushes live samples into buf at the simulated tick rate until ctx is
// canceled. Frames continue past the recording length, wrapping around the
// circuit indefinitely.
func (s *Source) Feed(ctx context.Context, buf *spola.LiveBuffer) error {
	interval := time.Second / time.Duration(s.tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	epoch := time.Now()
	frame := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			payload, err := s.payloadAt(frame%s.totalFrames, spola.AllFields())
			if err != nil {
				return fmt.Errorf("could not generate frame %d: %w", frame, err)
			}
			buf.Push(spola.Sample{
				TimestampMs: epoch.Add(time.Duration(frame) * interval).UnixMilli(),
				Metrics:     s.metrics.Extract(payload),
				Payload:     payload,
			})
			frame++
		}
	}
}
