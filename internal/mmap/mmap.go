// Package mmap provides a thin read-only memory mapping used by the disk
// manager's fast fetch path. Mappings are advisory: callers must be prepared
// to fall back to regular file reads when a mapping cannot be established or
// does not cover the requested range.
package mmap

import (
	"os"
	"sync"
)

// Mapping is a read-only memory mapping of a file prefix.
type Mapping struct {
	mu   sync.RWMutex
	f    *os.File
	data []byte
}

// Open maps the first size bytes of the file at path.
func Open(path string, size int) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := osMap(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Mapping{f: f, data: data}, nil
}

// Bytes returns the mapped region. The slice is only valid until Close.
func (m *Mapping) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Len returns the size of the mapped region.
func (m *Mapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close unmaps the region and closes the underlying file.
func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := osUnmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
