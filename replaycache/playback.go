package replaycache

import (
	"context"
	"math"
)

const (
	minSpeed = 0.1
	maxSpeed = 16.0
)

// Advance moves the cursor by the wall-clock time elapsed since the previous
// tick, scaled by the tick rate and the speed multiplier.
//
// The first call after resuming only records nowMs, so playback never jumps
// by the time spent paused. When an enabled loop's end is reached or passed
// the cursor lands exactly on the loop start, the tick clock is reset to
// avoid a burst of catch-up advancement, and the control surface is told
// about the new position. Reaching the final frame with no loop stops
// playback.
func (c *Cache) Advance(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing {
		c.hasLastTick = false
		return
	}
	if c.totalFrames == 0 || c.tickRate <= 0 {
		return
	}
	if !c.hasLastTick {
		c.lastTickMs = nowMs
		c.hasLastTick = true
		return
	}

	elapsedSec := float64(nowMs-c.lastTickMs) / 1000
	c.lastTickMs = nowMs
	c.cursor = clampFrame(c.cursor+int(math.Round(elapsedSec*float64(c.tickRate)*c.speed)), c.totalFrames)

	if c.loop.Enabled && c.loop.End > c.loop.Start && c.cursor >= c.loop.End {
		c.cursor = c.loop.Start
		c.hasLastTick = false
		c.notifyLocked(ActionSeek, float64(c.cursor))
		return
	}
	if c.cursor >= c.totalFrames-1 {
		c.playing = false
	}
}

// Play starts playback and notifies the control surface.
func (c *Cache) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return
	}
	c.playing = true
	c.hasLastTick = false
	c.notifyLocked(ActionPlay, 0)
}

// Pause stops playback and notifies the control surface.
func (c *Cache) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	c.playing = false
	c.hasLastTick = false
	c.notifyLocked(ActionPause, 0)
}

// TogglePlay flips between playing and paused.
func (c *Cache) TogglePlay() {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()
	if playing {
		c.Pause()
	} else {
		c.Play()
	}
}

// Seek moves the cursor to the given frame, clamped into the valid domain,
// and notifies the control surface.
func (c *Cache) Seek(frame int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = clampFrame(frame, c.totalFrames)
	c.notifyLocked(ActionSeek, float64(c.cursor))
}

// SetSpeed sets the playback speed multiplier, clamped to [0.1, 16], and
// notifies the control surface.
func (c *Cache) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if speed < minSpeed {
		speed = minSpeed
	}
	if speed > maxSpeed {
		speed = maxSpeed
	}
	c.speed = speed
	c.notifyLocked(ActionSpeed, c.speed)
}

// SetLoop configures the loop region. Start and end are swapped if given in
// reverse order, then clamped into the valid frame domain.
func (c *Cache) SetLoop(start, end int, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if start > end {
		start, end = end, start
	}
	if start < 0 {
		start = 0
	}
	if c.totalFrames > 0 && end > c.totalFrames {
		end = c.totalFrames
	}
	c.loop = Loop{Start: start, End: end, Enabled: enabled}
}

// BeginScrub enters the scrub state: playback pauses, prefetching is
// suppressed, and a fresh fetch scope supersedes the previous one.
func (c *Cache) BeginScrub() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scrubbing {
		return
	}
	c.scrubbing = true
	c.prevPlaying = c.playing
	c.playing = false
	c.hasLastTick = false
	c.supersedeLocked()
}

// EndScrub leaves the scrub state, restoring the play state that held before
// the drag began.
func (c *Cache) EndScrub() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scrubbing {
		return
	}
	c.scrubbing = false
	c.playing = c.prevPlaying
	c.hasLastTick = false
}

// Cursor returns the current frame index of interest.
func (c *Cache) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Playing reports whether the playback clock is advancing.
func (c *Cache) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Speed returns the playback speed multiplier.
func (c *Cache) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Scrubbing reports whether a scrub drag is in progress.
func (c *Cache) Scrubbing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrubbing
}

// LoopRegion returns the configured loop region.
func (c *Cache) LoopRegion() Loop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// notifyLocked sends a fire-and-forget control notification. Failures are
// logged, never retried.
func (c *Cache) notifyLocked(action Action, value float64) {
	if c.control == nil {
		return
	}
	sink := c.control
	logger := c.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		if err := sink.Control(ctx, action, value); err != nil {
			logger.Warn("control notify failed", "action", action, "error", err)
		}
	}()
}
