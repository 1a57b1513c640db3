package pagecache

import "context"

// Shard is an independent page cache unit owning a subset of the page-id
// space. Each shard serializes its own pin, replacement and I/O logic; the
// Router never imposes ordering across shards.
//
// A shard with index i in a router of N shards must only mint page ids with
// id mod N == i, so every id it produces routes back to itself.
type Shard interface {
	// Fetch returns the page pinned, reading it from disk on a miss.
	Fetch(ctx context.Context, id PageID) (*Page, error)

	// Unpin drops one pin and records dirtiness. It reports false when the
	// page is not resident or was not pinned.
	Unpin(id PageID, dirty bool) bool

	// Flush writes the page back to disk.
	Flush(ctx context.Context, id PageID) error

	// NewPage mints a fresh page id owned by this shard, pinned in a free
	// frame. A failed attempt leaves no allocated id or pinned frame
	// behind.
	NewPage(ctx context.Context) (*Page, error)

	// Delete drops the page from the cache and releases its id.
	Delete(ctx context.Context, id PageID) error

	// FlushAll writes back every resident page, continuing past
	// individual failures and aggregating them.
	FlushAll(ctx context.Context) error

	// Close releases the shard's resources.
	Close() error
}
