package sdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/sha3"
)

// Reader reads one dump. Primitive reads keep the first error; later reads
// return zero values. Finish verifies the footer.
type Reader struct {
	c       Carrier
	h       hash.Hash
	header  Header
	frames  *frameReader
	body    io.Reader
	scratch [8]byte
	err     error
}

// NewReader reads and validates the header at the carrier's position.
func NewReader(c Carrier) (*Reader, error) {
	r := &Reader{c: c, h: sha3.New256()}
	buf := make([]byte, HeaderSize)
	if err := r.fill(buf); err != nil {
		return nil, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	r.header = h

	if comp := h.Compression(); comp != CompressionNone {
		r.frames = newFrameReader(comp, r.fill)
		r.body = r.frames
	} else {
		r.body = readerFunc(func(p []byte) (int, error) {
			if err := r.fill(p); err != nil {
				return 0, err
			}
			return len(p), nil
		})
	}
	return r, nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// fill reads exactly len(p) raw carrier bytes and hashes them.
func (r *Reader) fill(p []byte) error {
	if _, err := io.ReadFull(r.c, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w at offset %d", ErrTruncated, r.c.Tell())
		}
		return err
	}
	r.h.Write(p)
	return nil
}

// Header returns the decoded header.
func (r *Reader) Header() Header { return r.header }

// Version returns the format version of the dump.
func (r *Reader) Version() uint32 { return r.header.Version }

// Err returns the first error.
func (r *Reader) Err() error { return r.err }

// Fail records err unless an error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Read reads body bytes.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := io.ReadFull(r.body, p)
	if err != nil {
		r.err = err
	}
	return n, err
}

func (r *Reader) take(n int) []byte {
	b := r.scratch[:n]
	if _, err := r.Read(b); err != nil {
		clear(b)
	}
	return b
}

// U8 reads one byte.
func (r *Reader) U8() uint8 { return r.take(1)[0] }

// U16 reads a little-endian u16.
func (r *Reader) U16() uint16 { return binary.LittleEndian.Uint16(r.take(2)) }

// U32 reads a little-endian u32.
func (r *Reader) U32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }

// U64 reads a little-endian u64.
func (r *Reader) U64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }

// I64 reads a little-endian i64.
func (r *Reader) I64() int64 { return int64(r.U64()) } //nolint:gosec // bit pattern

// Raw reads n bytes without a length prefix.
func (r *Reader) Raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil
	}
	return b
}

// Bytes reads a u32 length and that many bytes. Lengths above limit are
// rejected as corrupt.
func (r *Reader) Bytes(limit int) []byte {
	n := r.U32()
	if r.err != nil {
		return nil
	}
	if int64(n) > int64(limit) {
		r.Fail(fmt.Errorf("%w: length %d exceeds %d", ErrCorrupt, n, limit))
		return nil
	}
	return r.Raw(int(n))
}

// String reads a u16 length and that many bytes.
func (r *Reader) String() string {
	n := r.U16()
	if r.err != nil {
		return ""
	}
	return string(r.Raw(int(n)))
}

// Magic reads a section magic.
func (r *Reader) Magic() uint64 { return r.U64() }

// Expect reads a magic and fails unless it equals want.
func (r *Reader) Expect(want uint64) bool {
	got := r.Magic()
	if r.err != nil {
		return false
	}
	if got != want {
		r.Fail(fmt.Errorf("%w: section %s, want %s", ErrBadMagic, magicName(got), magicName(want)))
		return false
	}
	return true
}

// Finish checks that the body is fully consumed and verifies the footer.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.frames != nil && r.frames.remaining() != 0 {
		r.err = fmt.Errorf("%w: %d trailing body bytes", ErrCorrupt, r.frames.remaining())
		return r.err
	}

	sum := r.h.Sum(nil)
	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(r.c, footer); err != nil {
		r.err = fmt.Errorf("%w: footer: %w", ErrTruncated, err)
		return r.err
	}
	if err := checkFooter(footer, sum); err != nil {
		r.err = err
		return err
	}
	return nil
}
