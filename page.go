package pagecache

import (
	"sync"
	"sync/atomic"
)

// PageID uniquely identifies a page of persistent storage. IDs are opaque,
// stable for the lifetime of a page and owned by exactly one shard
// (id mod numShards).
type PageID uint64

// PageSize is the fixed size of a page in bytes.
const PageSize = 4096

// Page is an in-memory frame holding one disk page.
//
// The frame bookkeeping (pin count, dirty bit) is maintained by the owning
// pool; callers interact with it only through Router/Shard operations and the
// content latch. Data must only be accessed while the page is pinned.
type Page struct {
	mu sync.RWMutex

	id       PageID
	data     []byte
	pinCount atomic.Int32
	dirty    atomic.Bool
}

func newPage() *Page {
	return &Page{data: make([]byte, PageSize)}
}

// ID returns the page id held by this frame.
func (p *Page) ID() PageID { return p.id }

// Data returns the page contents. The slice aliases the frame buffer; it is
// only valid while the page is pinned.
func (p *Page) Data() []byte { return p.data }

// PinCount returns the current pin count.
func (p *Page) PinCount() int { return int(p.pinCount.Load()) }

// IsDirty reports whether the frame holds unwritten modifications.
func (p *Page) IsDirty() bool { return p.dirty.Load() }

// RLatch acquires the content latch for reading.
func (p *Page) RLatch() { p.mu.RLock() }

// RUnlatch releases the read latch.
func (p *Page) RUnlatch() { p.mu.RUnlock() }

// WLatch acquires the content latch for writing.
func (p *Page) WLatch() { p.mu.Lock() }

// WUnlatch releases the write latch.
func (p *Page) WUnlatch() { p.mu.Unlock() }

// reset prepares the frame for reuse by a different page.
func (p *Page) reset(id PageID) {
	p.id = id
	p.pinCount.Store(0)
	p.dirty.Store(false)
	clear(p.data)
}
