// Package replacer implements victim selection for buffer pool frames.
package replacer

import "sync"

// Clock is a second-chance (clock) replacer over a fixed set of frame slots.
//
// A frame becomes an eviction candidate when its pin count drops to zero
// (Unpin) and leaves the candidate set when it is pinned again or evicted.
// Victim sweeps the clock hand, clearing reference bits, and evicts the first
// candidate found without one.
type Clock struct {
	mu      sync.Mutex
	present []bool
	ref     []bool
	hand    int
	size    int
}

// NewClock creates a clock replacer tracking numFrames frame slots.
func NewClock(numFrames int) *Clock {
	return &Clock{
		present: make([]bool, numFrames),
		ref:     make([]bool, numFrames),
	}
}

// Unpin marks the frame as an eviction candidate with a fresh reference bit.
func (c *Clock) Unpin(frameID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.present[frameID] {
		c.present[frameID] = true
		c.size++
	}
	c.ref[frameID] = true
}

// Pin removes the frame from the candidate set.
func (c *Clock) Pin(frameID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.present[frameID] {
		c.present[frameID] = false
		c.size--
	}
}

// Victim selects a frame to evict and removes it from the candidate set.
// It reports false when no frame is evictable.
func (c *Clock) Victim() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size == 0 {
		return 0, false
	}
	// At most two sweeps: the first clears reference bits, the second is
	// then guaranteed to find a candidate.
	for range 2 * len(c.present) {
		id := c.hand
		c.hand = (c.hand + 1) % len(c.present)
		if !c.present[id] {
			continue
		}
		if c.ref[id] {
			c.ref[id] = false
			continue
		}
		c.present[id] = false
		c.size--
		return id, true
	}
	return 0, false
}

// Size returns the number of evictable frames.
func (c *Clock) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
