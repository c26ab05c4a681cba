// Package replaycache provides a demand-paged, chunked cache of recorded
// telemetry frames for variable-speed, seekable replay. Frames are fetched
// from a paged backend in fixed-size chunks, merged into a single contiguous
// backing array around a movable cursor, and exposed to rendering through
// the shared window-query contract. The cache owns the playback clock that
// advances the cursor (see playback.go) and the cancellation scopes that
// bound each scrub episode's fetches (see scope.go).
package replaycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alesr/spola"
)

const (
	// defaultChunkSize is the fetch granularity: 5 seconds at 60Hz.
	defaultChunkSize = 300

	// defaultMaxCacheFrames bounds the cache to 3 minutes at 60Hz.
	defaultMaxCacheFrames = 10800

	// defaultPrefetchBehind is how much tick-time behind the cursor to keep warm.
	defaultPrefetchBehind = 30 * time.Second

	// defaultPrefetchAhead is how much tick-time ahead of the cursor to keep warm.
	defaultPrefetchAhead = 60 * time.Second

	// controlTimeout bounds fire-and-forget control notifications.
	controlTimeout = 2 * time.Second
)

var (
	// ErrNoSource is returned when the cache has no frame source to fetch from.
	ErrNoSource = errors.New("replaycache: no frame source")

	// ErrNoSession is returned when no replay session has been set.
	ErrNoSession = errors.New("replaycache: no active session")
)

// FrameSource fetches a contiguous range of recorded frames. Frames must be
// returned in ascending, gapless frame order starting at start. The fetch is
// the only suspension point in the cache's life cycle; implementations must
// honor context cancellation.
type FrameSource interface {
	Frames(ctx context.Context, start, count int, mask spola.FieldMask) ([]spola.IndexedSample, error)
}

// Action identifies a playback-control command sent to the external control
// surface.
type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
	ActionSeek  Action = "seek"
	ActionSpeed Action = "speed"
)

// ControlSink receives fire-and-forget playback-state notifications, keeping
// an external session object synchronized with client-driven cursor changes.
// Failures are logged by the cache but never retried.
type ControlSink interface {
	Control(ctx context.Context, action Action, value float64) error
}

// Session carries the replay-session metadata supplied once at session start.
type Session struct {
	TotalFrames  int
	TickRate     int
	CurrentFrame int
	Playing      bool
	Speed        float64
}

// Loop is an optional frame span that playback wraps within when enabled.
type Loop struct {
	Start   int
	End     int
	Enabled bool
}

// Cache is a sparse-to-contiguous cache of recorded frames indexed by frame
// number. After any mutation the backing array is fully contiguous over
// [startFrame, startFrame+len) with no holes; disjoint fetch results either
// replace the cache wholesale or are discarded, arbitrated by distance from
// the cursor (see merge.go).
type Cache struct {
	source  FrameSource
	control ControlSink
	logger  *slog.Logger

	chunkSize      int
	maxCacheFrames int
	prefetchBehind time.Duration
	prefetchAhead  time.Duration

	mu sync.Mutex

	// session
	totalFrames int
	tickRate    int

	// contiguous cached range
	startFrame int
	samples    []spola.Sample

	// playback state
	cursor      int
	loop        Loop
	playing     bool
	speed       float64
	lastTickMs  int64
	hasLastTick bool
	scrubbing   bool
	prevPlaying bool

	// fetch state
	inflight map[int]chan struct{} // per-chunk in-flight marker, closed on completion
	scope    *fetchScope
	debounce *time.Timer
}

// Option defines an option for configuring Cache.
type Option func(*Cache)

// WithChunkSize sets the fetch granularity in frames.
func WithChunkSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithMaxCacheFrames sets the eviction budget in frames.
func WithMaxCacheFrames(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxCacheFrames = n
		}
	}
}

// WithPrefetchSpans sets how much tick-time behind and ahead of the cursor
// prefetching covers.
func WithPrefetchSpans(behind, ahead time.Duration) Option {
	return func(c *Cache) {
		if behind >= 0 {
			c.prefetchBehind = behind
		}
		if ahead >= 0 {
			c.prefetchAhead = ahead
		}
	}
}

// WithControlSink sets the external control surface to notify of
// client-driven playback changes.
func WithControlSink(sink ControlSink) Option {
	return func(c *Cache) {
		c.control = sink
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Cache fetching from the given source. The cache is inert
// until SetSession supplies the session dimensions.
func New(source FrameSource, opts ...Option) *Cache {
	c := &Cache{
		source:         source,
		logger:         slog.Default(),
		chunkSize:      defaultChunkSize,
		maxCacheFrames: defaultMaxCacheFrames,
		prefetchBehind: defaultPrefetchBehind,
		prefetchAhead:  defaultPrefetchAhead,
		speed:          1,
		inflight:       make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSession adopts replay-session metadata. The cursor is clamped into the
// valid frame domain and the tick clock is reset so the next Advance does
// not jump.
func (c *Cache) SetSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalFrames = s.TotalFrames
	if c.totalFrames < 0 {
		c.totalFrames = 0
	}
	c.tickRate = s.TickRate
	if c.tickRate <= 0 {
		c.tickRate = 60
	}
	c.cursor = clampFrame(s.CurrentFrame, c.totalFrames)
	c.playing = s.Playing
	c.speed = s.Speed
	if c.speed <= 0 {
		c.speed = 1
	}
	c.hasLastTick = false
}

// Reset clears all cached data, cancels in-flight requests, and zeroes
// cursor and playback state. Called on entering or leaving replay mode.
// Session dimensions persist until the next SetSession.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scope != nil {
		c.scope.cancel()
		c.scope = nil
	}
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.samples = nil
	c.startFrame = 0
	for _, done := range c.inflight {
		close(done)
	}
	c.inflight = make(map[int]chan struct{})
	c.cursor = 0
	c.loop = Loop{}
	c.playing = false
	c.speed = 1
	c.hasLastTick = false
	c.scrubbing = false
	c.prevPlaying = false
}

// NeedsFetch reports whether the chunk containing the cursor is not fully
// cached.
func (c *Cache) NeedsFetch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalFrames == 0 {
		return false
	}
	return !c.chunkCachedLocked(c.chunkIndex(c.cursor))
}

// EnsureLoaded returns once the chunk containing the cursor has been
// attempted: fetched by this call, or awaited if another call already has it
// in flight. A fetch that was canceled or returned a malformed response
// leaves the chunk uncached without error; NeedsFetch still reports it.
// Afterwards the chunks covering the configured tick-time spans behind and
// ahead of the cursor are prefetched asynchronously, skipped while
// scrubbing. Chunks already cached or already in flight are not
// re-requested.
func (c *Cache) EnsureLoaded(ctx context.Context, mask spola.FieldMask) error {
	c.mu.Lock()
	if c.source == nil {
		c.mu.Unlock()
		return ErrNoSource
	}
	if c.totalFrames == 0 {
		c.mu.Unlock()
		return ErrNoSession
	}
	sc := c.scopeLocked()
	chunk := c.chunkIndex(c.cursor)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.chunkCachedLocked(chunk) {
			c.mu.Unlock()
			break
		}
		wait, busy := c.inflight[chunk]
		var done chan struct{}
		if !busy {
			done = make(chan struct{})
			c.inflight[chunk] = done
		}
		c.mu.Unlock()

		if busy {
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
			// the awaited fetch may have been dropped; re-check and fetch
			// ourselves if the chunk is still missing
			continue
		}
		if err := c.fetchChunk(ctx, chunk, done, mask); err != nil {
			return err
		}
		break
	}

	c.mu.Lock()
	scrub := c.scrubbing
	c.mu.Unlock()
	if !scrub {
		go c.prefetch(sc, mask)
	}
	return nil
}

// EnsureLoadedDebounced coalesces rapid repeated calls (a slider drag) into
// a single deferred EnsureLoaded. Each call supersedes the previous
// coalescing group, canceling any fetches it had issued.
func (c *Cache) EnsureLoadedDebounced(delay time.Duration, mask spola.FieldMask) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc := c.supersedeLocked()
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(delay, func() {
		if err := c.EnsureLoaded(sc.ctx, mask); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("deferred load failed", "scope", sc.id, "error", err)
		}
	})
}

// Window returns a centered view [cursor-half, cursor+half] clipped to the
// valid frame domain. The accessor yields nil for frames not yet cached;
// consumers must treat nil as "loading", not as an error.
func (c *Cache) Window(windowMs int64) spola.Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.totalFrames == 0 || c.tickRate <= 0 {
		return spola.EmptyWindow(0)
	}

	half := int(windowMs * int64(c.tickRate) / 2000)
	lo := c.cursor - half
	if lo < 0 {
		lo = 0
	}
	hi := c.cursor + half
	if hi > c.totalFrames-1 {
		hi = c.totalFrames - 1
	}

	entries := make([]*spola.Sample, hi-lo+1)
	cachedEnd := c.startFrame + len(c.samples)
	for f := lo; f <= hi; f++ {
		if f >= c.startFrame && f < cachedEnd {
			entries[f-lo] = &c.samples[f-c.startFrame]
		}
	}

	return spola.Window{
		Count:    len(entries),
		AnchorMs: c.frameTimeMsLocked(c.cursor),
		At: func(i int) *spola.Sample {
			if i < 0 || i >= len(entries) {
				return nil
			}
			return entries[i]
		},
	}
}

// CachedRange returns the contiguous cached frame range [start, start+count).
func (c *Cache) CachedRange() (start, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startFrame, len(c.samples)
}

// TotalFrames returns the session's frame-domain bound.
func (c *Cache) TotalFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalFrames
}

// TickRate returns the session's frames per second.
func (c *Cache) TickRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickRate
}

// fetchChunk fetches one chunk and merges the result. Canceled fetches are
// dropped silently; transport failures are logged and the chunk remains
// unfetched, to be retried by a later prefetch cycle; malformed responses
// skip the merge entirely.
func (c *Cache) fetchChunk(ctx context.Context, chunk int, done chan struct{}, mask spola.FieldMask) error {
	defer func() {
		c.mu.Lock()
		// a Reset may have replaced the in-flight set and closed done already
		if ch, ok := c.inflight[chunk]; ok && ch == done {
			close(ch)
			delete(c.inflight, chunk)
		}
		c.mu.Unlock()
	}()

	c.mu.Lock()
	start, count := c.chunkSpanLocked(chunk)
	c.mu.Unlock()
	if count <= 0 {
		return nil
	}

	frames, err := c.source.Frames(ctx, start, count, mask)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Debug("chunk fetch canceled", "chunk", chunk)
			return nil
		}
		c.logger.Warn("chunk fetch failed", "chunk", chunk, "start", start, "count", count, "error", err)
		return fmt.Errorf("fetch chunk %d: %w", chunk, err)
	}

	if !framesContiguous(frames, start, count) {
		c.logger.Warn("malformed frame response, skipping merge", "chunk", chunk, "start", start, "got", len(frames))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// recorded samples live on the frame-index time axis
	for i := range frames {
		frames[i].Sample.TimestampMs = c.frameTimeMsLocked(frames[i].Frame)
	}
	c.mergeLocked(frames)
	c.trimLocked()
	return nil
}

// prefetch fetches the missing chunks covering the configured spans around
// the cursor, nearest chunk first, all tagged to the given scope.
func (c *Cache) prefetch(sc *fetchScope, mask spola.FieldMask) {
	c.mu.Lock()
	if c.totalFrames == 0 || c.tickRate <= 0 {
		c.mu.Unlock()
		return
	}
	behind := int(c.prefetchBehind.Seconds() * float64(c.tickRate))
	ahead := int(c.prefetchAhead.Seconds() * float64(c.tickRate))
	lo := clampFrame(c.cursor-behind, c.totalFrames)
	hi := clampFrame(c.cursor+ahead, c.totalFrames)
	cursorChunk := c.chunkIndex(c.cursor)

	var chunks []int
	pending := make(map[int]chan struct{})
	for ch := c.chunkIndex(lo); ch <= c.chunkIndex(hi); ch++ {
		if c.chunkCachedLocked(ch) {
			continue
		}
		if _, busy := c.inflight[ch]; busy {
			continue
		}
		done := make(chan struct{})
		c.inflight[ch] = done
		pending[ch] = done
		chunks = append(chunks, ch)
	}
	c.mu.Unlock()

	sort.Slice(chunks, func(i, j int) bool {
		return absInt(chunks[i]-cursorChunk) < absInt(chunks[j]-cursorChunk)
	})

	for _, ch := range chunks {
		// a canceled scope drains quickly: each fetch returns immediately
		// with context.Canceled and is dropped
		_ = c.fetchChunk(sc.ctx, ch, pending[ch], mask)
	}
}

// framesContiguous validates a fetch response: non-empty, starting at the
// requested frame, gapless and ascending, no longer than requested.
func framesContiguous(frames []spola.IndexedSample, start, count int) bool {
	if len(frames) == 0 || len(frames) > count {
		return false
	}
	for i, f := range frames {
		if f.Frame != start+i {
			return false
		}
	}
	return true
}

func (c *Cache) chunkIndex(frame int) int {
	return frame / c.chunkSize
}

// chunkSpanLocked returns the frame span of a chunk clipped to the session.
func (c *Cache) chunkSpanLocked(chunk int) (start, count int) {
	start = chunk * c.chunkSize
	count = c.chunkSize
	if start+count > c.totalFrames {
		count = c.totalFrames - start
	}
	return start, count
}

func (c *Cache) chunkCachedLocked(chunk int) bool {
	start, count := c.chunkSpanLocked(chunk)
	if count <= 0 {
		return true
	}
	return len(c.samples) > 0 &&
		start >= c.startFrame &&
		start+count <= c.startFrame+len(c.samples)
}

func (c *Cache) frameTimeMsLocked(frame int) int64 {
	if c.tickRate <= 0 {
		return 0
	}
	return int64(frame) * 1000 / int64(c.tickRate)
}

func clampFrame(frame, totalFrames int) int {
	if frame < 0 {
		return 0
	}
	if totalFrames > 0 && frame > totalFrames-1 {
		return totalFrames - 1
	}
	if totalFrames == 0 {
		return 0
	}
	return frame
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
