package replaycache

import "github.com/alesr/spola"

// mergeLocked folds a validated, contiguous fetch result into the cache.
//
// Overlapping or adjacent ranges are unioned, with fetched data winning in
// the overlap since it may be a more field-complete refetch. A disjoint
// range is arbitrated by center distance from the cursor: a fetched range
// closer to the cursor replaces the cache wholesale, while a farther one is
// discarded as a stale response for an abandoned cursor position that
// completed out of order.
func (c *Cache) mergeLocked(frames []spola.IndexedSample) {
	newStart := frames[0].Frame
	newEnd := newStart + len(frames)

	if len(c.samples) == 0 {
		c.adoptLocked(newStart, frames)
		return
	}

	existStart := c.startFrame
	existEnd := c.startFrame + len(c.samples)

	if newStart <= existEnd && newEnd >= existStart {
		uStart := existStart
		if newStart < uStart {
			uStart = newStart
		}
		uEnd := existEnd
		if newEnd > uEnd {
			uEnd = newEnd
		}
		merged := make([]spola.Sample, uEnd-uStart)
		copy(merged[existStart-uStart:], c.samples)
		for i, f := range frames {
			merged[newStart-uStart+i] = f.Sample
		}
		c.startFrame = uStart
		c.samples = merged
		return
	}

	// disjoint: compare center distances from the cursor, doubled to stay
	// in integers
	newDist := absInt(2*c.cursor - (newStart + newEnd - 1))
	existDist := absInt(2*c.cursor - (existStart + existEnd - 1))
	if newDist < existDist {
		c.adoptLocked(newStart, frames)
		return
	}
	c.logger.Debug("discarding stale disjoint fetch",
		"fetchedStart", newStart, "fetchedEnd", newEnd, "cursor", c.cursor)
}

func (c *Cache) adoptLocked(newStart int, frames []spola.IndexedSample) {
	c.startFrame = newStart
	c.samples = make([]spola.Sample, len(frames))
	for i, f := range frames {
		c.samples[i] = f.Sample
	}
}

// trimLocked evicts from whichever end of the contiguous range is farther
// from the cursor, down to leave the cursor roughly centered, then
// hard-truncates the far end if still over budget. The frame the cursor
// occupies is never trimmed.
func (c *Cache) trimLocked() {
	over := len(c.samples) - c.maxCacheFrames
	if over <= 0 {
		return
	}

	half := c.maxCacheFrames / 2
	local := c.cursorLocalLocked()
	before := local
	after := len(c.samples) - 1 - local

	if before >= after {
		trim := before - half
		if trim > over {
			trim = over
		}
		if trim > 0 {
			c.startFrame += trim
			c.samples = c.samples[trim:]
		}
	} else {
		trim := after - half
		if trim > over {
			trim = over
		}
		if trim > 0 {
			c.samples = c.samples[:len(c.samples)-trim]
		}
	}

	// hard-truncate the far end if still over budget, never past the cursor
	over = len(c.samples) - c.maxCacheFrames
	if over <= 0 {
		return
	}
	local = c.cursorLocalLocked()
	before = local
	after = len(c.samples) - 1 - local
	if before >= after {
		trim := over
		if trim > before {
			trim = before
		}
		c.startFrame += trim
		c.samples = c.samples[trim:]
	} else {
		trim := over
		if trim > after {
			trim = after
		}
		c.samples = c.samples[:len(c.samples)-trim]
	}
}

// cursorLocalLocked returns the cursor's offset into the backing array,
// clamped into the cached range.
func (c *Cache) cursorLocalLocked() int {
	local := c.cursor - c.startFrame
	if local < 0 {
		return 0
	}
	if local > len(c.samples)-1 {
		return len(c.samples) - 1
	}
	return local
}
