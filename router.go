package pagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/pagecache/disk"
	"github.com/hupe1980/pagecache/resource"
	"github.com/hupe1980/pagecache/wal"
)

// Router partitions the page-id space across independent cache shards.
//
// Operations on an existing page id route deterministically to the shard at
// id mod N; allocation of brand-new pages is spread round-robin across all
// shards via a rotating cursor. The shard slice, shard count and per-shard
// capacity are immutable after construction; the cursor is the only mutable
// router state and is guarded by a mutex held for a single read-and-advance.
type Router struct {
	shards   []Shard
	poolSize int

	mu     sync.Mutex
	cursor int

	pools  []*Pool // non-nil only when constructed by New; used for recovery
	lm     *wal.LogManager
	logger *slog.Logger
	rc     *resource.Controller
}

// New constructs a router over numShards freshly built pool shards, each with
// poolSize frames. The disk and log collaborators are handed to every shard;
// lm may be nil to run without write-ahead logging.
func New(numShards, poolSize int, dm disk.Manager, lm *wal.LogManager, optFns ...Option) (*Router, error) {
	if numShards <= 0 {
		return nil, fmt.Errorf("pagecache: at least one shard required, got %d", numShards)
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	pools := make([]*Pool, numShards)
	shards := make([]Shard, numShards)
	for i := range pools {
		pool, err := NewPool(i, numShards, poolSize, dm, lm, optFns...)
		if err != nil {
			for _, built := range pools[:i] {
				_ = built.Close()
			}
			return nil, fmt.Errorf("pagecache: create shard %d: %w", i, err)
		}
		pools[i] = pool
		shards[i] = pool
	}

	return &Router{
		shards:   shards,
		poolSize: poolSize,
		pools:    pools,
		lm:       lm,
		logger:   opts.logger,
		rc:       opts.rc,
	}, nil
}

// NewFromShards assembles a router over prebuilt shards. poolSize is the
// per-shard frame capacity reported by TotalCapacity.
func NewFromShards(shards []Shard, poolSize int) (*Router, error) {
	if len(shards) == 0 {
		return nil, errors.New("pagecache: at least one shard required")
	}

	opts := defaultOptions()
	return &Router{
		shards:   shards,
		poolSize: poolSize,
		logger:   opts.logger,
	}, nil
}

// NumShards returns the fixed shard count.
func (r *Router) NumShards() int { return len(r.shards) }

// TotalCapacity returns the aggregate frame capacity, numShards * poolSize.
func (r *Router) TotalCapacity() int { return len(r.shards) * r.poolSize }

// SelectShard returns the shard owning the given page id. The mapping is a
// pure function of the id and the fixed shard count; it never changes for
// the lifetime of the router.
func (r *Router) SelectShard(id PageID) Shard {
	return r.shards[uint64(id)%uint64(len(r.shards))]
}

// FetchPage fetches the page from its owning shard, pinned.
func (r *Router) FetchPage(ctx context.Context, id PageID) (*Page, error) {
	return r.SelectShard(id).Fetch(ctx, id)
}

// UnpinPage drops one pin on the page in its owning shard. It reports false
// when the page was not pinned.
func (r *Router) UnpinPage(id PageID, dirty bool) bool {
	return r.SelectShard(id).Unpin(id, dirty)
}

// FlushPage writes the page back to disk via its owning shard.
func (r *Router) FlushPage(ctx context.Context, id PageID) error {
	return r.SelectShard(id).Flush(ctx, id)
}

// DeletePage removes the page via its owning shard.
func (r *Router) DeletePage(ctx context.Context, id PageID) error {
	return r.SelectShard(id).Delete(ctx, id)
}

// NewPage allocates a brand-new page, probing shards round-robin from the
// current cursor position.
//
// The cursor is advanced exactly once per call, whether or not any shard can
// satisfy the request, so repeated failures in one shard never starve the
// others of first-shot priority and concurrent callers fan out across
// shards.
func (r *Router) NewPage(ctx context.Context) (*Page, error) {
	r.mu.Lock()
	start := r.cursor
	r.cursor = (r.cursor + 1) % len(r.shards)
	r.mu.Unlock()

	var firstErr error
	for i := range r.shards {
		idx := (start + i) % len(r.shards)
		page, err := r.shards[idx].NewPage(ctx)
		if err != nil {
			if firstErr == nil && !errors.Is(err, ErrNoFreeFrame) {
				firstErr = err
			}
			continue
		}
		if got := int(uint64(page.ID()) % uint64(len(r.shards))); got != idx {
			// A misbehaving allocator would silently corrupt routing:
			// every later operation on this id would reach shard `got`
			// instead of its minter.
			return nil, fmt.Errorf("pagecache: shard %d minted page %d owned by shard %d", idx, uint64(page.ID()), got)
		}
		return page, nil
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fmt.Errorf("%w: all %d shards exhausted", ErrNoFreeFrame, len(r.shards))
}

// FlushAllPages flushes every shard in index order. A failing shard does not
// stop the fan-out; per-shard failures are aggregated.
func (r *Router) FlushAllPages(ctx context.Context) error {
	var errs []error
	for i, shard := range r.shards {
		if err := shard.FlushAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every shard, then checkpoints and closes the log.
func (r *Router) Close() error {
	var errs []error
	for i, shard := range r.shards {
		if err := shard.Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d close: %w", i, err))
		}
	}
	if r.lm != nil {
		if len(errs) == 0 {
			// Every dirty page reached disk; the log can be dropped.
			if err := r.lm.Checkpoint(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.lm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
