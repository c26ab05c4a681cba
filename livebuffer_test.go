package spola

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSample(tsMs int64, speed float64) Sample {
	payload := Payload(fmt.Appendf(nil, `{"speed":%g,"rpm":%g}`, speed, speed*100))
	return Sample{
		TimestampMs: tsMs,
		Metrics:     map[string]float64{"speed": speed},
		Payload:     payload,
	}
}

func TestLiveBufferInitialization(t *testing.T) {
	t.Parallel()

	// test default settings
	b := NewLiveBuffer()
	assert.Equal(t, defaultLiveCapacity, b.Cap(), "should use default capacity")
	assert.Equal(t, 0, b.Len(), "should start empty")

	// test custom options
	b = NewLiveBuffer(
		WithCapacity(120),
		WithPayloadSizeHint(2048),
		WithMaxRecycleSize(64*1024),
	)
	assert.Equal(t, 120, b.Cap(), "should use custom capacity")
	assert.Equal(t, 2048, b.payloadSize, "should use custom payload size hint")
	assert.Equal(t, 64*1024, b.pool.maxSize, "should use custom recycle size")

	// invalid options fall back to defaults
	b = NewLiveBuffer(WithCapacity(-1))
	assert.Equal(t, defaultLiveCapacity, b.Cap())
}

func TestLiveBufferPushAndAccess(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(10))

	for i := 0; i < 5; i++ {
		b.Push(testSample(int64(i)*100, float64(i)))
	}

	assert.Equal(t, 5, b.Len())

	for i := 0; i < 5; i++ {
		s, ok := b.At(i)
		require.True(t, ok)
		assert.Equal(t, int64(i)*100, s.TimestampMs, "samples should be in arrival order")
		assert.Equal(t, float64(i), s.Metrics["speed"])
	}

	_, ok := b.At(5)
	assert.False(t, ok, "out-of-range index should not resolve")
	_, ok = b.At(-1)
	assert.False(t, ok, "negative index should not resolve")

	latest, ok := b.LatestTimestamp()
	require.True(t, ok)
	assert.Equal(t, int64(400), latest)
}

func TestLiveBufferOverwriteOldest(t *testing.T) {
	t.Parallel()

	const capacity = 5
	b := NewLiveBuffer(WithCapacity(capacity))

	// push twice the capacity
	for i := 0; i < 10; i++ {
		b.Push(testSample(int64(i)*100, float64(i)))
	}

	assert.Equal(t, capacity, b.Len(), "buffer should hold exactly its capacity")

	// only the newest samples remain, still in arrival order
	for i := 0; i < capacity; i++ {
		s, ok := b.At(i)
		require.True(t, ok)
		assert.Equal(t, int64(i+5)*100, s.TimestampMs)
	}

	stats := b.Stats()
	assert.Equal(t, uint64(10), stats.Pushed, "should have counted all pushes")
	assert.Equal(t, uint64(5), stats.Overwritten, "should have counted overwrites")
	assert.Equal(t, 1.0, stats.Utilization, "buffer should be 100% utilized")
}

func TestLiveBufferWindowRange(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(100))
	for i := 0; i < 10; i++ {
		b.Push(testSample(int64(i)*1000, float64(i))) // one sample per second
	}

	testCases := []struct {
		name       string
		durationMs int64
		nowMs      int64
		wantStart  int
		wantCount  int
	}{
		{"trailing 3s window", 3000, 9000, 6, 4},
		{"boundary sample included", 2000, 9000, 7, 3}, // ts=7000 == cutoff, lower bound
		{"duration longer than span returns everything", 60000, 9000, 0, 10},
		{"window entirely in the future", 1000, 20000, 10, 0},
		{"now before all samples", 500, -100, 0, 10},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			start, count := b.WindowRange(tc.durationMs, tc.nowMs)
			assert.Equal(t, tc.wantStart, start, "start index")
			assert.Equal(t, tc.wantCount, count, "count")
		})
	}
}

func TestLiveBufferWindowRangeProperty(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(64))
	// irregular but monotonic timestamps, enough to wrap the ring
	ts := int64(0)
	for i := 0; i < 200; i++ {
		ts += int64(10 + (i*7)%50)
		b.Push(testSample(ts, 0))
	}

	for _, durationMs := range []int64{1, 100, 500, 5000} {
		start, count := b.WindowRange(durationMs, ts)
		cutoff := ts - durationMs

		if count > 0 {
			first, ok := b.At(start)
			require.True(t, ok)
			assert.GreaterOrEqual(t, first.TimestampMs, cutoff,
				"first window sample must be within the cutoff")
		}
		if start > 0 {
			prev, ok := b.At(start - 1)
			require.True(t, ok)
			assert.Less(t, prev.TimestampMs, cutoff,
				"predecessor of the window must be older than the cutoff")
		}
	}
}

func TestLiveBufferWindowEmptyBuffer(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer()
	start, count := b.WindowRange(1000, 5000)
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, count, "empty buffer should return a zero count, not an error")

	w := b.Window(1000, 5000)
	assert.Equal(t, 0, w.Count)
	assert.Equal(t, int64(5000), w.AnchorMs)
	assert.Nil(t, w.At(0))
}

func TestLiveBufferWindowIsStableCopy(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(4))
	for i := 0; i < 4; i++ {
		b.Push(testSample(int64(i)*100, float64(i)))
	}

	w := b.Window(10_000, 300)
	require.Equal(t, 4, w.Count)
	assert.Equal(t, int64(300), w.AnchorMs, "anchor should be the trailing edge")

	// keep overwriting the ring; the window must not change underneath us
	for i := 4; i < 40; i++ {
		b.Push(testSample(int64(i)*100, float64(i)))
	}

	for i := 0; i < 4; i++ {
		s := w.At(i)
		require.NotNil(t, s)
		assert.Equal(t, int64(i)*100, s.TimestampMs, "window should be a stable view")
		speed, ok := s.Payload.Num("speed")
		require.True(t, ok)
		assert.Equal(t, float64(i), speed, "payload should be a stable copy")
	}

	assert.Nil(t, w.At(4), "accessor should yield nil out of range")
	assert.Nil(t, w.At(-1))
}

func TestLiveBufferAtIsStableCopy(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(4))
	for i := 0; i < 4; i++ {
		b.Push(testSample(int64(i)*100, float64(i)))
	}

	held, ok := b.At(0)
	require.True(t, ok)

	// overwrite the whole ring; the oldest payload's storage is recycled
	// through the pool and re-appended into by later pushes
	for i := 4; i < 20; i++ {
		b.Push(testSample(int64(i)*100, float64(i)))
	}

	assert.Equal(t, int64(0), held.TimestampMs)
	speed, ok := held.Payload.Num("speed")
	require.True(t, ok, "held payload must still parse after overwrites")
	assert.Equal(t, 0.0, speed, "held payload must not read recycled storage")
}

func TestLiveBufferReset(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(8))
	for i := 0; i < 8; i++ {
		b.Push(testSample(int64(i), 0))
	}
	require.Equal(t, 8, b.Len())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	_, ok := b.LatestTimestamp()
	assert.False(t, ok, "reset buffer should report no latest timestamp")

	// buffer remains usable after reset
	b.Push(testSample(42, 1))
	assert.Equal(t, 1, b.Len())
}

func TestLiveBufferConcurrentPushAndWindow(t *testing.T) {
	t.Parallel()

	b := NewLiveBuffer(WithCapacity(256))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			b.Push(testSample(int64(i), float64(i)))
		}
	}()

	go func() {
		defer wg.Done()
		for n := 0; n < 200; n++ {
			latest, ok := b.LatestTimestamp()
			if !ok {
				continue
			}
			w := b.Window(1000, latest)
			prev := int64(-1)
			for i := 0; i < w.Count; i++ {
				s := w.At(i)
				if s == nil {
					t.Error("live window should never contain nil entries")
					continue
				}
				if s.TimestampMs < prev {
					t.Errorf("window samples out of order: %d after %d", s.TimestampMs, prev)
				}
				prev = s.TimestampMs
			}
		}
	}()

	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, uint64(2000), stats.Pushed)
}
