//go:build unix

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func osMap(f *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// Page cache access is random in a buffer pool workload.
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil && err != unix.EINVAL {
		_ = unix.Munmap(data)
		return nil, err
	}
	return data, nil
}

func osUnmap(data []byte) error {
	return unix.Munmap(data)
}
