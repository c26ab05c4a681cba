package demo

import (
	"context"
	"testing"
	"time"

	"github.com/alesr/spola"
	"github.com/alesr/spola/replaycache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceDeterminism(t *testing.T) {
	t.Parallel()

	src := NewSource()
	ctx := context.Background()

	first, err := src.Frames(ctx, 1000, 50, spola.AllFields())
	require.NoError(t, err)
	second, err := src.Frames(ctx, 1000, 50, spola.AllFields())
	require.NoError(t, err)

	require.Len(t, first, 50)
	for i := range first {
		assert.Equal(t, first[i].Frame, second[i].Frame)
		assert.Equal(t, string(first[i].Sample.Payload), string(second[i].Sample.Payload),
			"the same frame index should always yield the same payload")
	}
}

func TestSourceFramesContiguousAndClipped(t *testing.T) {
	t.Parallel()

	src := NewSource(WithTotalFrames(1000))
	ctx := context.Background()

	frames, err := src.Frames(ctx, 950, 200, spola.AllFields())
	require.NoError(t, err)
	require.Len(t, frames, 50, "the range should be clipped to the recording length")

	for i, f := range frames {
		assert.Equal(t, 950+i, f.Frame)
	}

	frames, err = src.Frames(ctx, 2000, 100, spola.AllFields())
	require.NoError(t, err)
	assert.Empty(t, frames, "a range past the end should yield nothing")
}

func TestSourceFramesPlausibleTelemetry(t *testing.T) {
	t.Parallel()

	src := NewSource()
	frames, err := src.Frames(context.Background(), 0, 600, spola.AllFields())
	require.NoError(t, err)

	for _, f := range frames {
		speed, ok := f.Sample.Payload.Num("speed")
		require.True(t, ok)
		assert.GreaterOrEqual(t, speed, 0.0)

		rpm, ok := f.Sample.Payload.Num("rpm")
		require.True(t, ok)
		assert.GreaterOrEqual(t, rpm, 1200.0)
		assert.LessOrEqual(t, rpm, 8000.0)

		gear, ok := f.Sample.Payload.Num("gear")
		require.True(t, ok)
		assert.GreaterOrEqual(t, gear, 1.0)
		assert.LessOrEqual(t, gear, 6.0)

		throttle, ok := f.Sample.Payload.Num("throttle")
		require.True(t, ok)
		assert.GreaterOrEqual(t, throttle, 0.0)
		assert.LessOrEqual(t, throttle, 1.0)

		assert.Equal(t, speed, f.Sample.Metrics["speed"], "metrics should mirror the payload")
	}

	// The opening straight ends in heavy braking around the 8 second mark.
	atStraight := frames[300].Sample.Metrics["speed"]
	braking, err := src.Frames(context.Background(), 9*60, 1, spola.AllFields())
	require.NoError(t, err)
	assert.Greater(t, atStraight, braking[0].Sample.Metrics["speed"],
		"speed should drop between the straight and the braking zone")
}

func TestSourceFieldMask(t *testing.T) {
	t.Parallel()

	src := NewSource()
	frames, err := src.Frames(context.Background(), 0, 1, spola.NewFieldMask("speed", "gear"))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	p := frames[0].Sample.Payload
	_, ok := p.Num("speed")
	assert.True(t, ok)
	_, ok = p.Num("gear")
	assert.True(t, ok)
	_, ok = p.Num("rpm")
	assert.False(t, ok, "sections outside the mask should be thinned away")
	_, ok = p.Num("g_force.x")
	assert.False(t, ok)
}

func TestSourceHonorsContext(t *testing.T) {
	t.Parallel()

	src := NewSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Frames(ctx, 0, 100, spola.AllFields())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceSession(t *testing.T) {
	t.Parallel()

	src := NewSource(WithTickRate(120), WithTotalFrames(5000))
	sess := src.Session()

	assert.Equal(t, 5000, sess.TotalFrames)
	assert.Equal(t, 120, sess.TickRate)
	assert.Equal(t, 1.0, sess.Speed)
}

func TestSourceFeedsLiveBuffer(t *testing.T) {
	t.Parallel()

	src := NewSource(WithTickRate(200))
	buf := spola.NewLiveBuffer(spola.WithCapacity(1000))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Feed(ctx, buf)
	}()

	assert.Eventually(t, func() bool {
		return buf.Len() >= 10
	}, 2*time.Second, 10*time.Millisecond, "the feed should push samples at the tick rate")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Feed did not return after cancellation")
	}

	s, ok := buf.At(0)
	require.True(t, ok)
	assert.NotZero(t, s.TimestampMs)
	assert.Contains(t, s.Metrics, "speed")
}

func TestSourceBacksReplayCache(t *testing.T) {
	t.Parallel()

	src := NewSource(WithTotalFrames(3000))
	cache := replaycache.New(src)
	cache.SetSession(src.Session())

	require.NoError(t, cache.EnsureLoaded(context.Background(), spola.AllFields()))

	w := cache.Window(2000)
	require.Positive(t, w.Count)

	mid := w.At(w.Count / 2)
	require.NotNil(t, mid, "the cursor frame should be cached")
	assert.Contains(t, mid.Metrics, "speed")
}
