package sdb

import (
	"bufio"
	"errors"
	"io"

	"github.com/hupe1980/nodedb/internal/fs"
)

// Carrier is where a dump is read from or written to. Carriers keep the
// first error and return it from Err until ClearErr.
type Carrier interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	// Tell returns the current offset.
	Tell() int64
	// Flush pushes buffered writes to the backing store.
	Flush() error
	// Err returns the first error seen.
	Err() error
	// ClearErr resets the error state.
	ClearErr()
}

var errInvalidWhence = errors.New("sdb: invalid whence")

// MemCarrier is an in-memory Carrier.
type MemCarrier struct {
	buf []byte
	pos int64
	err error
}

// NewMemCarrier returns an empty carrier for writing.
func NewMemCarrier() *MemCarrier {
	return &MemCarrier{buf: make([]byte, 0, 64<<10)}
}

// NewMemCarrierBytes returns a carrier positioned at the start of data.
func NewMemCarrierBytes(data []byte) *MemCarrier {
	return &MemCarrier{buf: data}
}

// Write implements io.Writer.
func (b *MemCarrier) Write(p []byte) (n int, err error) {
	minCap := int(b.pos) + len(p)
	if minCap > cap(b.buf) {
		newCap := max(cap(b.buf)*2, minCap)
		newBuf := make([]byte, len(b.buf), newCap)
		copy(newBuf, b.buf)
		b.buf = newBuf
	}
	if minCap > len(b.buf) {
		b.buf = b.buf[:minCap]
	}
	n = copy(b.buf[b.pos:], p)
	b.pos += int64(n)
	return n, nil
}

// Read implements io.Reader.
func (b *MemCarrier) Read(p []byte) (n int, err error) {
	if b.pos >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n = copy(p, b.buf[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (b *MemCarrier) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.buf)) + offset
	default:
		return 0, b.fail(errInvalidWhence)
	}
	if newPos < 0 {
		return 0, b.fail(io.ErrUnexpectedEOF)
	}
	b.pos = newPos
	return newPos, nil
}

func (b *MemCarrier) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return err
}

// Tell returns the current offset.
func (b *MemCarrier) Tell() int64 { return b.pos }

// Flush is a no-op.
func (b *MemCarrier) Flush() error { return nil }

// Err returns the first error seen.
func (b *MemCarrier) Err() error { return b.err }

// ClearErr resets the error state.
func (b *MemCarrier) ClearErr() { b.err = nil }

// Close is a no-op; the bytes stay available.
func (b *MemCarrier) Close() error { return nil }

// Bytes returns the underlying byte slice.
func (b *MemCarrier) Bytes() []byte { return b.buf }

// Len returns the length of the buffer.
func (b *MemCarrier) Len() int { return len(b.buf) }

// Reset clears the buffer.
func (b *MemCarrier) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
	b.err = nil
}

// FileCarrier is a buffered Carrier over an fs.File.
type FileCarrier struct {
	f   fs.File
	r   *bufio.Reader
	w   *bufio.Writer
	pos int64
	err error
}

// CreateFile creates (or truncates) name for writing.
func CreateFile(fsys fs.FileSystem, name string) (*FileCarrier, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fs.Create(fsys, name)
	if err != nil {
		return nil, err
	}
	return &FileCarrier{f: f, w: bufio.NewWriterSize(f, 64<<10)}, nil
}

// OpenFile opens name for reading.
func OpenFile(fsys fs.FileSystem, name string) (*FileCarrier, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fs.Open(fsys, name)
	if err != nil {
		return nil, err
	}
	return &FileCarrier{f: f, r: bufio.NewReaderSize(f, 64<<10)}, nil
}

// Write implements io.Writer.
func (c *FileCarrier) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.w == nil {
		return 0, c.fail(errors.New("sdb: carrier opened read-only"))
	}
	n, err := c.w.Write(p)
	c.pos += int64(n)
	if err != nil {
		return n, c.fail(err)
	}
	return n, nil
}

// Read implements io.Reader.
func (c *FileCarrier) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.r == nil {
		return 0, c.fail(errors.New("sdb: carrier opened write-only"))
	}
	n, err := c.r.Read(p)
	c.pos += int64(n)
	if err != nil && err != io.EOF {
		return n, c.fail(err)
	}
	return n, err
}

// Seek implements io.Seeker. Buffered writes are flushed and buffered
// reads discarded.
func (c *FileCarrier) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekCurrent {
		offset += c.pos
		whence = io.SeekStart
	}
	if err := c.Flush(); err != nil {
		return 0, err
	}
	pos, err := c.f.Seek(offset, whence)
	if err != nil {
		return 0, c.fail(err)
	}
	if c.r != nil {
		c.r.Reset(c.f)
	}
	c.pos = pos
	return pos, nil
}

// Tell returns the logical offset.
func (c *FileCarrier) Tell() int64 { return c.pos }

// Flush writes buffered data to the file.
func (c *FileCarrier) Flush() error {
	if c.w == nil {
		return c.err
	}
	if err := c.w.Flush(); err != nil {
		return c.fail(err)
	}
	return c.err
}

// Err returns the first error seen.
func (c *FileCarrier) Err() error { return c.err }

// ClearErr resets the error state.
func (c *FileCarrier) ClearErr() { c.err = nil }

// Close flushes, syncs written files and closes the file. A partially
// written file is left in place.
func (c *FileCarrier) Close() error {
	var err error
	if c.w != nil {
		err = c.Flush()
		if err == nil {
			err = c.f.Sync()
		}
	}
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *FileCarrier) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	return err
}
