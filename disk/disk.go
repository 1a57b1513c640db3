// Package disk provides the durable block storage consumed by the buffer
// pool shards. The Manager interface is the unit of replacement: production
// code uses the file-backed implementation, tests may substitute their own.
package disk

import (
	"context"
	"errors"
)

// Manager is responsible for reading and writing fixed-size pages on durable
// storage. Implementations must be safe for concurrent use.
type Manager interface {
	// ReadPage reads the page into buf. len(buf) must equal the page size.
	ReadPage(ctx context.Context, pageID uint64, buf []byte) error

	// WritePage writes the page contents, extending the backing store as
	// needed. len(data) must equal the page size.
	WritePage(ctx context.Context, pageID uint64, data []byte) error

	// DeallocatePage releases the storage for a page. Reading a
	// deallocated page returns zeroes until it is rewritten.
	DeallocatePage(pageID uint64) error

	// Sync flushes buffered writes to stable storage.
	Sync() error

	// Close releases all resources.
	Close() error
}

var (
	// ErrBadPageSize is returned when a buffer does not match the
	// configured page size.
	ErrBadPageSize = errors.New("disk: buffer size does not match page size")

	// ErrClosed is returned for operations on a closed manager.
	ErrClosed = errors.New("disk: closed")
)
