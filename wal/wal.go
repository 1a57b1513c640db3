// Package wal provides the write-ahead log consumed by the buffer pool
// shards. Shards log page allocation, deallocation and full page images
// before write-back; replaying the log after a crash restores the disk file
// and the per-shard allocator state.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/pagecache/internal/fs"
)

const (
	walMagic      = "PAGECWAL" // 8 bytes
	walVersion    = 1          // 4 bytes
	walHeaderSize = 12
)

var (
	// ErrIncompatibleVersion is returned when the log was written by an
	// incompatible version.
	ErrIncompatibleVersion = errors.New("wal: incompatible version")

	// ErrInvalidHeader is returned when the log file header is malformed.
	ErrInvalidHeader = errors.New("wal: invalid header")
)

// Options configures a LogManager.
type Options struct {
	// FS is the file system abstraction. Defaults to the local file system.
	FS fs.FileSystem

	// SyncOnAppend calls fsync after every append. Slow but safe.
	SyncOnAppend bool

	// Compression selects the codec for page image payloads.
	Compression Compression

	// CompressionLevel is the zstd encoder level (ignored for other codecs).
	CompressionLevel zstd.EncoderLevel
}

// DefaultOptions returns the default LogManager configuration.
func DefaultOptions() Options {
	return Options{
		SyncOnAppend:     true,
		Compression:      CompressionZstd,
		CompressionLevel: zstd.SpeedDefault,
	}
}

// WithFS sets the file system abstraction.
func WithFS(fsys fs.FileSystem) func(*Options) {
	return func(o *Options) { o.FS = fsys }
}

// WithSyncOnAppend controls fsync-per-append durability.
func WithSyncOnAppend(sync bool) func(*Options) {
	return func(o *Options) { o.SyncOnAppend = sync }
}

// WithCompression selects the page image codec.
func WithCompression(c Compression) func(*Options) {
	return func(o *Options) { o.Compression = c }
}

// LogManager manages the write-ahead log file. It is safe for concurrent use
// by multiple shards.
type LogManager struct {
	mu    sync.Mutex
	fsys  fs.FileSystem
	file  fs.File
	path  string
	opts  Options
	codec codecPair
	seq   uint64
}

// Open opens or creates a write-ahead log at the given path.
func Open(path string, optFns ...func(*Options)) (*LogManager, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}

	f, err := opts.FS.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	lm := &LogManager{fsys: opts.FS, file: f, path: path, opts: opts}

	lm.codec.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(opts.CompressionLevel))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: create compressor: %w", err)
	}
	lm.codec.dec, err = zstd.NewReader(nil)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: create decompressor: %w", err)
	}

	if err := lm.initHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := lm.scanForSeq(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: scan: %w", err)
	}
	return lm, nil
}

func (lm *LogManager) initHeader() error {
	stat, err := lm.file.Stat()
	if err != nil {
		return err
	}

	if stat.Size() == 0 {
		header := make([]byte, walHeaderSize)
		copy(header[0:8], walMagic)
		binary.LittleEndian.PutUint32(header[8:12], walVersion)
		if _, err := lm.file.Write(header); err != nil {
			return err
		}
		return lm.file.Sync()
	}

	if stat.Size() < walHeaderSize {
		return fmt.Errorf("%w: file too small (%d bytes)", ErrInvalidHeader, stat.Size())
	}
	header := make([]byte, walHeaderSize)
	if _, err := lm.file.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[0:8]) != walMagic {
		return fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != walVersion {
		return fmt.Errorf("%w: version %d", ErrIncompatibleVersion, v)
	}
	return nil
}

// scanForSeq replays the existing log to find the highest sequence number.
func (lm *LogManager) scanForSeq() error {
	return lm.replayLocked(func(rec Record) error {
		lm.seq = rec.Seq
		return nil
	})
}

// AppendAllocate logs that a shard minted the given page id.
func (lm *LogManager) AppendAllocate(pageID uint64) error {
	return lm.append(Record{Kind: RecordAllocate, PageID: pageID})
}

// AppendDeallocate logs that a page id was returned to its shard.
func (lm *LogManager) AppendDeallocate(pageID uint64) error {
	return lm.append(Record{Kind: RecordDeallocate, PageID: pageID})
}

// AppendPageImage logs the full page contents prior to write-back.
func (lm *LogManager) AppendPageImage(pageID uint64, data []byte) error {
	return lm.append(Record{Kind: RecordPageImage, PageID: pageID, Data: data})
}

func (lm *LogManager) append(rec Record) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.seq++
	rec.Seq = lm.seq
	if err := encodeRecord(lm.file, &lm.codec, lm.opts.Compression, rec); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if lm.opts.SyncOnAppend {
		if err := lm.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync: %w", err)
		}
	}
	return nil
}

// Sync flushes the log to stable storage.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.file.Sync()
}

// Replay invokes fn for every intact record in log order. A truncated final
// record (torn write) terminates the replay without error; a corrupt record
// in the middle of the log is reported.
func (lm *LogManager) Replay(fn func(Record) error) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.replayLocked(fn)
}

func (lm *LogManager) replayLocked(fn func(Record) error) error {
	if _, err := lm.file.Seek(walHeaderSize, io.SeekStart); err != nil {
		return err
	}
	for {
		rec, err := decodeRecord(lm.file, &lm.codec)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Checkpoint truncates the log back to its header. Callers must have flushed
// all dirty pages first; otherwise the dropped records are unrecoverable.
func (lm *LogManager) Checkpoint() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.file.Truncate(walHeaderSize); err != nil {
		return fmt.Errorf("wal: checkpoint truncate: %w", err)
	}
	if _, err := lm.file.Seek(walHeaderSize, io.SeekStart); err != nil {
		return err
	}
	return lm.file.Sync()
}

// Seq returns the highest sequence number appended so far.
func (lm *LogManager) Seq() uint64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.seq
}

// Close syncs and closes the log file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	syncErr := lm.file.Sync()
	closeErr := lm.file.Close()
	lm.codec.enc.Close()
	lm.codec.dec.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
