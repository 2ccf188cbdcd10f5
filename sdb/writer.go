package sdb

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/hupe1980/nodedb/internal/conv"
	"github.com/hupe1980/nodedb/internal/version"
)

// WriterOptions configure a Writer.
type WriterOptions struct {
	// Compression of the body.
	Compression Compression
	// Version of the format to write; 0 means FormatCurrent.
	Version uint32
	// CreatedWith is the engine version that created the database; empty
	// means UpdatedWith.
	CreatedWith string
	// UpdatedWith is the running engine version; empty means version.String().
	UpdatedWith string
}

// Writer writes one dump. Primitive Put methods keep the first error;
// Close reports it.
type Writer struct {
	c       Carrier
	h       hash.Hash
	frames  *frameWriter
	body    io.Writer
	header  Header
	scratch [8]byte
	err     error
	closed  bool
}

// NewWriter writes the header of a dump of the given kind (FlagCommon or
// FlagBlock) to c.
func NewWriter(c Carrier, kind Flags, opts WriterOptions) (*Writer, error) {
	if kind != FlagCommon && kind != FlagBlock {
		return nil, fmt.Errorf("%w: kind %s", ErrWrongDumpKind, kind)
	}
	if opts.Version == 0 {
		opts.Version = FormatCurrent
	}
	if opts.Version < FormatMin || opts.Version > FormatCurrent {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, opts.Version)
	}
	if opts.UpdatedWith == "" {
		opts.UpdatedWith = version.String()
	}
	if opts.CreatedWith == "" {
		opts.CreatedWith = opts.UpdatedWith
	}

	w := &Writer{
		c: c,
		h: sha3.New256(),
		header: Header{
			CreatedWith: version.Truncate(opts.CreatedWith),
			UpdatedWith: version.Truncate(opts.UpdatedWith),
			Version:     opts.Version,
			Flags:       kind | opts.Compression.flag(),
		},
	}
	w.emit(encodeHeader(w.header))
	if w.err != nil {
		return nil, w.err
	}

	if opts.Compression != CompressionNone {
		w.frames = newFrameWriter(opts.Compression, func(p []byte) error {
			w.emit(p)
			return w.err
		})
		w.body = w.frames
	} else {
		w.body = writerFunc(func(p []byte) (int, error) {
			w.emit(p)
			return len(p), w.err
		})
	}
	return w, nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// Header returns the written header.
func (w *Writer) Header() Header { return w.header }

// Version returns the format version being written.
func (w *Writer) Version() uint32 { return w.header.Version }

// Err returns the first error.
func (w *Writer) Err() error { return w.err }

// emit writes raw carrier bytes and hashes them.
func (w *Writer) emit(p []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.c.Write(p); err != nil {
		w.err = err
		return
	}
	w.h.Write(p)
}

// Write writes body bytes.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.body.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *Writer) put(p []byte) { _, _ = w.Write(p) }

// PutU8 writes one byte.
func (w *Writer) PutU8(v uint8) {
	w.scratch[0] = v
	w.put(w.scratch[:1])
}

// PutU16 writes a little-endian u16.
func (w *Writer) PutU16(v uint16) {
	binary.LittleEndian.PutUint16(w.scratch[:], v)
	w.put(w.scratch[:2])
}

// PutU32 writes a little-endian u32.
func (w *Writer) PutU32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:], v)
	w.put(w.scratch[:4])
}

// PutU64 writes a little-endian u64.
func (w *Writer) PutU64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:], v)
	w.put(w.scratch[:8])
}

// PutI64 writes a little-endian i64.
func (w *Writer) PutI64(v int64) { w.PutU64(uint64(v)) } //nolint:gosec // bit pattern

// PutRaw writes p without a length prefix.
func (w *Writer) PutRaw(p []byte) { w.put(p) }

// PutLen writes a u32 element count.
func (w *Writer) PutLen(n int) {
	v, err := conv.IntToUint32(n)
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("sdb: %w", err)
		}
		return
	}
	w.PutU32(v)
}

// PutBytes writes a u32 length and p.
func (w *Writer) PutBytes(p []byte) {
	w.PutLen(len(p))
	w.put(p)
}

// PutString writes a u16 length and s.
func (w *Writer) PutString(s string) {
	n, err := conv.IntToUint16(len(s))
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("sdb: string: %w", err)
		}
		return
	}
	w.PutU16(n)
	w.put([]byte(s))
}

// PutMagic writes a section magic.
func (w *Writer) PutMagic(m uint64) { w.PutU64(m) }

// Close flushes the last frame and writes the footer. It does not close
// the carrier.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.frames != nil && w.err == nil {
		if err := w.frames.flush(); err != nil && w.err == nil {
			w.err = err
		}
	}
	if w.err != nil {
		return w.err
	}

	sum := w.h.Sum(nil)
	footer := make([]byte, 0, FooterSize)
	footer = append(footer, endMagic[:]...)
	footer = append(footer, sum...)
	if _, err := w.c.Write(footer); err != nil {
		w.err = err
		return err
	}
	if err := w.c.Flush(); err != nil {
		w.err = err
	}
	return w.err
}
