package pagecache

import "errors"

var (
	// ErrPageNotFound is returned when a page id is unknown to its shard.
	ErrPageNotFound = errors.New("page not found")

	// ErrNoFreeFrame is returned when no frame can be secured: every frame
	// in the probed pool (or, for Router.NewPage, in every pool) is pinned.
	ErrNoFreeFrame = errors.New("no free frame")

	// ErrPagePinned is returned when deleting a page that is still pinned.
	ErrPagePinned = errors.New("page is pinned")

	// ErrClosed is returned for operations on a closed router or shard.
	ErrClosed = errors.New("pagecache: closed")
)
