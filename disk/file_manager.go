package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/pagecache/internal/fs"
	"github.com/hupe1980/pagecache/internal/mmap"
	"github.com/hupe1980/pagecache/resource"
)

// Options configures a FileManager.
type Options struct {
	// FS is the file system abstraction. Defaults to the local file system.
	FS fs.FileSystem

	// PageSize is the fixed page size in bytes. Defaults to 4096.
	PageSize int

	// UseMmap enables the memory-mapped read fast path. Writes always go
	// through the file descriptor; the mapping is remapped lazily as the
	// file grows. Ignored on platforms without mmap support.
	UseMmap bool

	// Resource throttles I/O throughput when set.
	Resource *resource.Controller
}

// WithFS sets the file system abstraction.
func WithFS(fsys fs.FileSystem) func(*Options) {
	return func(o *Options) { o.FS = fsys }
}

// WithPageSize sets the page size.
func WithPageSize(size int) func(*Options) {
	return func(o *Options) { o.PageSize = size }
}

// WithMmap enables the mmap read fast path.
func WithMmap(enabled bool) func(*Options) {
	return func(o *Options) { o.UseMmap = enabled }
}

// WithResource attaches a resource controller for I/O throttling.
func WithResource(rc *resource.Controller) func(*Options) {
	return func(o *Options) { o.Resource = rc }
}

// FileManager is a Manager backed by a single file. Page n lives at byte
// offset n*pageSize.
type FileManager struct {
	mu       sync.RWMutex
	fsys     fs.FileSystem
	file     fs.File
	path     string
	pageSize int
	rc       *resource.Controller
	useMmap  bool
	mapping  *mmap.Mapping // nil until established
	closed   bool
}

var _ Manager = (*FileManager)(nil)

// NewFileManager opens or creates the page file at path.
func NewFileManager(path string, optFns ...func(*Options)) (*FileManager, error) {
	opts := Options{PageSize: 4096}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}

	f, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}

	return &FileManager{
		fsys:     opts.FS,
		file:     f,
		path:     path,
		pageSize: opts.PageSize,
		rc:       opts.Resource,
		useMmap:  opts.UseMmap,
	}, nil
}

// PageSize returns the configured page size.
func (fm *FileManager) PageSize() int { return fm.pageSize }

func (fm *FileManager) ReadPage(ctx context.Context, pageID uint64, buf []byte) error {
	if len(buf) != fm.pageSize {
		return ErrBadPageSize
	}
	if err := fm.rc.AcquireIO(ctx, fm.pageSize); err != nil {
		return err
	}

	off := int64(pageID) * int64(fm.pageSize)

	if fm.useMmap {
		if ok := fm.readMapped(buf, off); ok {
			return nil
		}
	}

	fm.mu.RLock()
	defer fm.mu.RUnlock()
	if fm.closed {
		return ErrClosed
	}
	n, err := fm.file.ReadAt(buf, off)
	if err == io.EOF && n < fm.pageSize {
		// Page beyond the current file end: never written, reads as zero.
		clear(buf[n:])
		return nil
	}
	if err != nil {
		return fmt.Errorf("disk: read page %d: %w", pageID, err)
	}
	return nil
}

// readMapped serves the read from the mapping when it covers the range,
// remapping first if the file has since grown past the mapped prefix.
func (fm *FileManager) readMapped(buf []byte, off int64) bool {
	fm.mu.RLock()
	if fm.closed {
		fm.mu.RUnlock()
		return false
	}
	if m := fm.mapping; m != nil && off+int64(len(buf)) <= int64(m.Len()) {
		copy(buf, m.Bytes()[off:])
		fm.mu.RUnlock()
		return true
	}
	fm.mu.RUnlock()

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.closed {
		return false
	}
	if fm.mapping == nil || off+int64(len(buf)) > int64(fm.mapping.Len()) {
		if !fm.remapLocked(off + int64(len(buf))) {
			return false
		}
	}
	if m := fm.mapping; m != nil && off+int64(len(buf)) <= int64(m.Len()) {
		copy(buf, m.Bytes()[off:])
		return true
	}
	return false
}

// remapLocked re-establishes the read mapping over the current file size.
// Returns false when the file does not yet cover minSize or mapping fails;
// callers then fall back to ReadAt.
func (fm *FileManager) remapLocked(minSize int64) bool {
	stat, err := fm.file.Stat()
	if err != nil || stat.Size() < minSize {
		return false
	}
	if fm.mapping != nil {
		_ = fm.mapping.Close()
		fm.mapping = nil
	}
	m, err := mmap.Open(fm.path, int(stat.Size()))
	if err != nil {
		return false
	}
	fm.mapping = m
	return true
}

func (fm *FileManager) WritePage(ctx context.Context, pageID uint64, data []byte) error {
	if len(data) != fm.pageSize {
		return ErrBadPageSize
	}
	if err := fm.rc.AcquireIO(ctx, fm.pageSize); err != nil {
		return err
	}

	fm.mu.RLock()
	defer fm.mu.RUnlock()
	if fm.closed {
		return ErrClosed
	}
	off := int64(pageID) * int64(fm.pageSize)
	if _, err := fm.file.WriteAt(data, off); err != nil {
		return fmt.Errorf("disk: write page %d: %w", pageID, err)
	}
	return nil
}

func (fm *FileManager) DeallocatePage(pageID uint64) error {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	if fm.closed {
		return ErrClosed
	}
	off := int64(pageID) * int64(fm.pageSize)
	stat, err := fm.file.Stat()
	if err != nil {
		return err
	}
	if off >= stat.Size() {
		// Never written; nothing to release.
		return nil
	}
	// Zero the region so a stale image cannot be read back.
	if _, err := fm.file.WriteAt(make([]byte, fm.pageSize), off); err != nil {
		return fmt.Errorf("disk: deallocate page %d: %w", pageID, err)
	}
	return nil
}

func (fm *FileManager) Sync() error {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	if fm.closed {
		return ErrClosed
	}
	return fm.file.Sync()
}

func (fm *FileManager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.closed {
		return nil
	}
	fm.closed = true

	var mapErr error
	if fm.mapping != nil {
		mapErr = fm.mapping.Close()
		fm.mapping = nil
	}
	syncErr := fm.file.Sync()
	closeErr := fm.file.Close()

	switch {
	case syncErr != nil:
		return syncErr
	case closeErr != nil:
		return closeErr
	default:
		return mapErr
	}
}
