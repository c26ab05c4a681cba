package spola

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultLiveCapacity holds one minute of samples at 60Hz.
	defaultLiveCapacity = 3600

	// defaultPayloadSizeHint is the expected size of a telemetry payload.
	defaultPayloadSizeHint = 4 * 1024

	// defaultMaxRecycleSize is the threshold for payload buffer recycling.
	defaultMaxRecycleSize = 1024 * 1024 // 1MB
)

// LiveBuffer is a fixed-capacity circular store for samples arriving from a
// live push stream. Once full, each push overwrites the oldest entry. Reads
// are logically ordered oldest-to-newest even though physical storage wraps.
//
// Push never fails and does not validate timestamp ordering; callers must
// supply monotonic non-decreasing timestamps.
type LiveBuffer struct {
	// configuration
	capacity       int
	payloadSize    int // hint for expected payload size
	maxRecycleSize int // maximum size of payload buffers to recycle
	pool           *payloadPool

	// internal state
	mu      sync.RWMutex
	samples []Sample // circular buffer
	head    int      // next write position
	count   int      // valid sample count

	// metrics
	pushed       atomic.Uint64
	overwritten  atomic.Uint64
	creationTime time.Time
	lastPushMs   atomic.Int64
}

// LiveBufferOption defines an option for configuring LiveBuffer.
type LiveBufferOption func(*LiveBuffer)

// WithCapacity sets the maximum number of samples the buffer can hold.
func WithCapacity(n int) LiveBufferOption {
	return func(b *LiveBuffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithPayloadSizeHint sets the expected payload size for memory allocation.
func WithPayloadSizeHint(size int) LiveBufferOption {
	return func(b *LiveBuffer) {
		if size > 0 {
			b.payloadSize = size
		}
	}
}

// WithMaxRecycleSize sets the maximum payload buffer size to recycle.
func WithMaxRecycleSize(size int) LiveBufferOption {
	return func(b *LiveBuffer) {
		if size > 0 {
			b.maxRecycleSize = size
		}
	}
}

// NewLiveBuffer creates a new LiveBuffer with the specified options.
func NewLiveBuffer(opts ...LiveBufferOption) *LiveBuffer {
	b := &LiveBuffer{
		capacity:       defaultLiveCapacity,
		payloadSize:    defaultPayloadSizeHint,
		maxRecycleSize: defaultMaxRecycleSize,
		creationTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.samples = make([]Sample, b.capacity)
	b.pool = newPayloadPool(b.payloadSize, withMaxPayloadSize(b.maxRecycleSize))
	return b
}

// Push appends a sample at the write pointer, overwriting the oldest entry
// once the buffer is full. The payload is copied; the caller keeps ownership
// of the slice it passed in. O(1).
func (b *LiveBuffer) Push(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.capacity {
		// recycle memory from the sample we're about to overwrite
		if b.samples[b.head].Payload != nil {
			b.pool.put(b.samples[b.head].Payload)
			b.samples[b.head].Payload = nil
		}
		b.overwritten.Add(1)
	}

	buf := b.pool.get()
	buf = append(buf, s.Payload...)
	s.Payload = buf

	b.samples[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}

	b.pushed.Add(1)
	b.lastPushMs.Store(s.TimestampMs)
}

// Len returns the number of samples currently stored.
func (b *LiveBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the fixed capacity of the buffer.
func (b *LiveBuffer) Cap() int {
	return b.capacity
}

// At returns the sample at the given logical index (0 = oldest). The
// returned payload is a copy: pushes keep recycling buffer storage through
// the pool, so callers may hold the sample for as long as they like.
func (b *LiveBuffer) At(i int) (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= b.count {
		return Sample{}, false
	}
	s := b.samples[b.physicalLocked(i)]
	payload := make(Payload, len(s.Payload))
	copy(payload, s.Payload)
	s.Payload = payload
	return s, true
}

// LatestTimestamp returns the timestamp of the newest sample. O(1).
func (b *LiveBuffer) LatestTimestamp() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return 0, false
	}
	return b.samples[b.physicalLocked(b.count-1)].TimestampMs, true
}

// WindowRange returns the smallest logical index range whose samples have
// timestamp >= nowMs-durationMs. Binary search over the logically ordered
// view (lower bound, so the boundary sample is included). A duration longer
// than the stored span returns all stored samples. count is 0 when empty.
func (b *LiveBuffer) WindowRange(durationMs, nowMs int64) (start, count int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.windowRangeLocked(durationMs, nowMs)
}

// Window returns a read-only view of the samples within the trailing time
// range [nowMs-durationMs, nowMs]. The window is a deep copy: it stays valid
// while the buffer keeps overwriting, and its trailing edge is anchored at
// nowMs.
func (b *LiveBuffer) Window(durationMs, nowMs int64) Window {
	b.mu.RLock()
	start, count := b.windowRangeLocked(durationMs, nowMs)
	view := make([]Sample, count)
	for i := 0; i < count; i++ {
		src := b.samples[b.physicalLocked(start+i)]
		payload := make(Payload, len(src.Payload))
		copy(payload, src.Payload)
		view[i] = Sample{
			TimestampMs: src.TimestampMs,
			Metrics:     src.Metrics,
			Payload:     payload,
		}
	}
	b.mu.RUnlock()

	return Window{
		Count:    count,
		AnchorMs: nowMs,
		At: func(i int) *Sample {
			if i < 0 || i >= len(view) {
				return nil
			}
			return &view[i]
		},
	}
}

// Reset empties the buffer and recycles all payload storage.
func (b *LiveBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.count; i++ {
		idx := b.physicalLocked(i)
		if b.samples[idx].Payload != nil {
			b.pool.put(b.samples[idx].Payload)
		}
		b.samples[idx] = Sample{}
	}
	b.head = 0
	b.count = 0
}

// LiveBufferStats contains counters for a LiveBuffer.
type LiveBufferStats struct {
	Pushed      uint64        // total samples pushed
	Overwritten uint64        // samples lost to overwrite
	Count       int           // current sample count
	Capacity    int           // maximum samples
	Utilization float64       // current buffer fullness (0.0-1.0)
	Uptime      time.Duration // time since creation
	LastPushMs  int64         // timestamp of newest sample
}

// Stats returns current buffer statistics.
func (b *LiveBuffer) Stats() LiveBufferStats {
	b.mu.RLock()
	count := b.count
	b.mu.RUnlock()

	utilization := 0.0
	if b.capacity > 0 {
		utilization = float64(count) / float64(b.capacity)
	}
	return LiveBufferStats{
		Pushed:      b.pushed.Load(),
		Overwritten: b.overwritten.Load(),
		Count:       count,
		Capacity:    b.capacity,
		Utilization: utilization,
		Uptime:      time.Since(b.creationTime),
		LastPushMs:  b.lastPushMs.Load(),
	}
}

// physicalLocked maps a logical index (0 = oldest) to a physical slot.
func (b *LiveBuffer) physicalLocked(i int) int {
	return (b.head - b.count + i + b.capacity) % b.capacity
}

func (b *LiveBuffer) windowRangeLocked(durationMs, nowMs int64) (start, count int) {
	if b.count == 0 {
		return 0, 0
	}
	cutoff := nowMs - durationMs
	// lower bound: first logical index with timestamp >= cutoff
	start = sort.Search(b.count, func(i int) bool {
		return b.samples[b.physicalLocked(i)].TimestampMs >= cutoff
	})
	return start, b.count - start
}
