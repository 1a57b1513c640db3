//go:build windows

package mmap

import (
	"errors"
	"os"
)

// ErrUnsupported signals that mapping is unavailable; callers fall back to
// regular file reads.
var ErrUnsupported = errors.New("mmap: not supported on this platform")

func osMap(f *os.File, size int) ([]byte, error) {
	return nil, ErrUnsupported
}

func osUnmap(data []byte) error { return nil }
