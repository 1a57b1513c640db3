package pagecache

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// pageAllocator mints page ids for one shard. Fresh ids follow the stride
// index, index+N, index+2N, ... so every minted id routes back to the owning
// shard; deallocated ids are recycled from a bitmap freelist before the
// stride counter grows.
type pageAllocator struct {
	mu     sync.Mutex
	index  uint64
	stride uint64
	next   uint64 // next fresh id, always ≡ index (mod stride)
	free   *roaring64.Bitmap
}

func newPageAllocator(index, stride int) *pageAllocator {
	return &pageAllocator{
		index:  uint64(index),
		stride: uint64(stride),
		next:   uint64(index),
		free:   roaring64.New(),
	}
}

// allocate mints a page id, preferring recycled ids.
func (a *pageAllocator) allocate() PageID {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.free.IsEmpty() {
		id := a.free.Minimum()
		a.free.Remove(id)
		return PageID(id)
	}
	id := a.next
	a.next += a.stride
	return PageID(id)
}

// release returns a minted id to the freelist.
func (a *pageAllocator) release(id PageID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if uint64(id) < a.next {
		a.free.Add(uint64(id))
	}
}

// owns reports whether id is currently minted by this shard: it routes here,
// has been handed out, and has not been released since.
func (a *pageAllocator) owns(id PageID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := uint64(id)
	return u%a.stride == a.index && u < a.next && !a.free.Contains(u)
}

// markAllocated replays an allocation: the id is live again and the stride
// counter is advanced past it. Used during recovery.
func (a *pageAllocator) markAllocated(id PageID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := uint64(id)
	a.free.Remove(u)
	if u >= a.next {
		a.next = u + a.stride
	}
}
