package mmap

import (
	"errors"
	"os"
	"sync/atomic"
)

// Mapping is a region obtained from the OS. Pool slabs are anonymous
// read-write mappings; dump files are shared read-only mappings.
type Mapping struct {
	data   []byte
	anon   bool
	closed atomic.Bool
	unmap  func([]byte) error
}

// MapAnon maps size zero-filled bytes outside the Go heap and applies each
// hint in advice. Hints the platform rejects are dropped.
func MapAnon(size int, advice ...AccessPattern) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	data, unmap, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}
	m := &Mapping{data: data, anon: true, unmap: unmap}
	m.adviseAll(advice)
	return m, nil
}

// Open maps the file at path read-only and applies advice. An empty file
// yields an empty mapping.
func Open(path string, advice ...AccessPattern) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	switch {
	case size == 0:
		return &Mapping{}, nil
	case size < 0 || int64(int(size)) != size:
		return nil, ErrInvalidSize
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, err
	}
	m := &Mapping{data: data, unmap: unmap}
	m.adviseAll(advice)
	return m, nil
}

func (m *Mapping) adviseAll(advice []AccessPattern) {
	for _, p := range advice {
		if p != AccessDefault {
			_ = osAdvise(m.data, p, m.anon)
		}
	}
}

// Anonymous reports whether the mapping is not backed by a file.
func (m *Mapping) Anonymous() bool { return m.anon }

// Close unmaps the region. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.unmap == nil || m.data == nil {
		return nil
	}
	return m.unmap(m.data)
}

// Bytes returns the mapped region, nil after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Len returns the mapped size in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Advise hints the kernel about future access to the whole region.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern, m.anon)
}

// AdviseRange hints the kernel about n bytes starting at off. Pool slabs use
// it to release the pages of a freed chunk run without unmapping the slab.
// AccessDontNeed is narrowed to the whole pages inside the range.
func (m *Mapping) AdviseRange(off, n int, pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if off < 0 || n < 0 || off+n > len(m.data) {
		return ErrInvalidRange
	}
	if pattern == AccessDontNeed {
		// Only whole pages inside the range may be dropped.
		page := os.Getpagesize()
		end := (off + n) / page * page
		off = (off + page - 1) / page * page
		n = max(end-off, 0)
	}
	if n == 0 {
		return nil
	}
	return osAdvise(m.data[off:off+n], pattern, m.anon)
}

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the requested or file size is invalid.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidRange is returned for a range outside the mapping.
	ErrInvalidRange = errors.New("mmap: invalid range")
)
