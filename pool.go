package pagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/pagecache/disk"
	"github.com/hupe1980/pagecache/internal/replacer"
	"github.com/hupe1980/pagecache/resource"
	"github.com/hupe1980/pagecache/wal"
)

// Pool is a single buffer pool shard: a fixed set of frames, a page table,
// clock replacement and a striped page-id allocator. It implements Shard.
//
// All bookkeeping is serialized under one mutex; disk reads and write-backs
// happen under it as well, so a stalled I/O blocks only this shard.
type Pool struct {
	index     int
	numShards int
	capacity  int

	dm      disk.Manager
	lm      *wal.LogManager
	logger  *slog.Logger
	metrics MetricsObserver
	rc      *resource.Controller

	mu        sync.Mutex
	frames    []*Page
	pageTable map[PageID]int
	freeList  []int
	rep       *replacer.Clock
	alloc     *pageAllocator
	closed    bool
}

var _ Shard = (*Pool)(nil)

// NewPool creates one buffer pool shard. index is the shard's position in a
// router of numShards; the shard only mints page ids that route back to it.
// lm may be nil to run without write-ahead logging.
func NewPool(index, numShards, capacity int, dm disk.Manager, lm *wal.LogManager, optFns ...Option) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pagecache: pool capacity must be positive, got %d", capacity)
	}
	if index < 0 || index >= numShards {
		return nil, fmt.Errorf("pagecache: shard index %d out of range [0,%d)", index, numShards)
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.rc.AcquireMemory(context.Background(), int64(capacity)*PageSize); err != nil {
		return nil, fmt.Errorf("pagecache: reserve frame memory: %w", err)
	}

	p := &Pool{
		index:     index,
		numShards: numShards,
		capacity:  capacity,
		dm:        dm,
		lm:        lm,
		logger:    opts.logger.With("shard", index),
		metrics:   opts.metrics,
		rc:        opts.rc,
		frames:    make([]*Page, capacity),
		pageTable: make(map[PageID]int, capacity),
		freeList:  make([]int, 0, capacity),
		rep:       replacer.NewClock(capacity),
		alloc:     newPageAllocator(index, numShards),
	}
	for i := range p.frames {
		p.frames[i] = newPage()
		p.freeList = append(p.freeList, i)
	}
	return p, nil
}

// Index returns the shard's position within its router.
func (p *Pool) Index() int { return p.index }

// Capacity returns the number of frames in this shard.
func (p *Pool) Capacity() int { return p.capacity }

func (p *Pool) Fetch(ctx context.Context, id PageID) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	if frameID, ok := p.pageTable[id]; ok {
		page := p.frames[frameID]
		if page.pinCount.Add(1) == 1 {
			p.rep.Pin(frameID)
		}
		p.metrics.OnFetch(p.index, true)
		return page, nil
	}
	p.metrics.OnFetch(p.index, false)

	if !p.alloc.owns(id) {
		return nil, fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}

	frameID, err := p.victimLocked(ctx)
	if err != nil {
		return nil, err
	}

	page := p.frames[frameID]
	page.reset(id)
	if err := p.dm.ReadPage(ctx, uint64(id), page.data); err != nil {
		p.freeList = append(p.freeList, frameID)
		return nil, err
	}

	p.pageTable[id] = frameID
	page.pinCount.Store(1)
	return page, nil
}

func (p *Pool) Unpin(id PageID, dirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable[id]
	if !ok {
		return false
	}
	page := p.frames[frameID]
	if page.PinCount() <= 0 {
		return false
	}
	if dirty {
		page.dirty.Store(true)
	}
	if page.pinCount.Add(-1) == 0 {
		p.rep.Unpin(frameID)
	}
	return true
}

func (p *Pool) Flush(ctx context.Context, id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	frameID, ok := p.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: page %d not resident", ErrPageNotFound, id)
	}
	return p.writeBackLocked(ctx, p.frames[frameID])
}

func (p *Pool) NewPage(ctx context.Context) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	// Secure the frame before minting an id: a refused attempt must leave
	// no allocated id or pinned frame behind.
	frameID, err := p.victimLocked(ctx)
	if err != nil {
		p.metrics.OnAllocate(p.index, err)
		return nil, err
	}

	id := p.alloc.allocate()
	if p.lm != nil {
		if err := p.lm.AppendAllocate(uint64(id)); err != nil {
			p.alloc.release(id)
			p.freeList = append(p.freeList, frameID)
			p.metrics.OnAllocate(p.index, err)
			return nil, err
		}
	}

	page := p.frames[frameID]
	page.reset(id)
	page.pinCount.Store(1)
	p.pageTable[id] = frameID

	p.metrics.OnAllocate(p.index, nil)
	p.logger.Debug("new page", "page", uint64(id), "frame", frameID)
	return page, nil
}

func (p *Pool) Delete(ctx context.Context, id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if !p.alloc.owns(id) {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}

	if frameID, ok := p.pageTable[id]; ok {
		page := p.frames[frameID]
		if page.PinCount() > 0 {
			return fmt.Errorf("%w: page %d", ErrPagePinned, id)
		}
		delete(p.pageTable, id)
		p.rep.Pin(frameID) // drop from the candidate set
		page.reset(0)
		p.freeList = append(p.freeList, frameID)
	}

	if p.lm != nil {
		if err := p.lm.AppendDeallocate(uint64(id)); err != nil {
			return err
		}
	}
	if err := p.dm.DeallocatePage(uint64(id)); err != nil {
		return err
	}
	p.alloc.release(id)
	return nil
}

func (p *Pool) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	var errs []error
	for _, frameID := range p.pageTable {
		if err := p.writeBackLocked(ctx, p.frames[frameID]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes every resident page and releases the shard's resources.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var errs []error
	for _, frameID := range p.pageTable {
		if err := p.writeBackLocked(context.Background(), p.frames[frameID]); err != nil {
			errs = append(errs, err)
		}
	}
	p.closed = true
	p.rc.ReleaseMemory(int64(p.capacity) * PageSize)
	return errors.Join(errs...)
}

// victimLocked secures a frame for reuse: from the free list if possible,
// otherwise by evicting an unpinned page (writing it back first when dirty).
func (p *Pool) victimLocked(ctx context.Context) (int, error) {
	if n := len(p.freeList); n > 0 {
		frameID := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return frameID, nil
	}

	frameID, ok := p.rep.Victim()
	if !ok {
		return 0, fmt.Errorf("%w: all %d frames pinned in shard %d", ErrNoFreeFrame, p.capacity, p.index)
	}
	victim := p.frames[frameID]
	if victim.IsDirty() {
		if err := p.writeBackLocked(ctx, victim); err != nil {
			// The page stays resident and evictable; the caller's
			// operation fails without losing the victim's data.
			p.rep.Unpin(frameID)
			return 0, err
		}
	}
	delete(p.pageTable, victim.id)
	p.metrics.OnEvict(p.index)
	p.logger.Debug("evicted page", "page", uint64(victim.id), "frame", frameID)
	return frameID, nil
}

// writeBackLocked logs the page image and writes the page to disk.
func (p *Pool) writeBackLocked(ctx context.Context, page *Page) error {
	start := time.Now()
	err := func() error {
		if p.lm != nil {
			if err := p.lm.AppendPageImage(uint64(page.id), page.data); err != nil {
				return err
			}
		}
		return p.dm.WritePage(ctx, uint64(page.id), page.data)
	}()
	p.metrics.OnFlush(p.index, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("shard %d: flush page %d: %w", p.index, uint64(page.id), err)
	}
	page.dirty.Store(false)
	return nil
}

// applyRecord replays one WAL record against this shard during recovery.
func (p *Pool) applyRecord(ctx context.Context, rec wal.Record) error {
	switch rec.Kind {
	case wal.RecordAllocate:
		p.alloc.markAllocated(PageID(rec.PageID))
		return nil
	case wal.RecordDeallocate:
		p.alloc.release(PageID(rec.PageID))
		return p.dm.DeallocatePage(rec.PageID)
	case wal.RecordPageImage:
		p.alloc.markAllocated(PageID(rec.PageID))
		return p.dm.WritePage(ctx, rec.PageID, rec.Data)
	default:
		return fmt.Errorf("pagecache: unknown WAL record kind %d", rec.Kind)
	}
}
