package sdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/nodedb/internal/hash"
)

// Compression selects the body compression of a dump.
type Compression uint8

const (
	// CompressionNone writes the body as is.
	CompressionNone Compression = iota
	// CompressionZstd compresses every frame with zstd.
	CompressionZstd
	// CompressionLZ4 compresses every frame with lz4 block compression.
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

func (c Compression) flag() Flags {
	switch c {
	case CompressionZstd:
		return FlagZstd
	case CompressionLZ4:
		return FlagLZ4
	default:
		return 0
	}
}

const (
	// FrameSize is the uncompressed size of a full frame.
	FrameSize = 64 << 10
	// frameHeaderSize: u32 raw_len | u32 comp_len | u32 crc32c.
	frameHeaderSize = 12
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// encodeFrame compresses raw and returns header and data. Frames that do not
// shrink are stored (comp_len 0).
func encodeFrame(raw []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(raw, nil)
		putZstdEncoder(enc)
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, err
		}
		compressed = dst[:n] // n == 0: incompressible
	}

	stored := len(compressed) == 0 || len(compressed) >= len(raw)
	body := compressed
	if stored {
		body = raw
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(raw))) //nolint:gosec // <= FrameSize
	if !stored {
		binary.LittleEndian.PutUint32(frame[4:], uint32(len(body))) //nolint:gosec // bounded
	}
	binary.LittleEndian.PutUint32(frame[8:], hash.CRC32C(raw))
	copy(frame[frameHeaderSize:], body)
	return frame, nil
}

// decodeFrame decompresses body into dst (len(dst) == raw_len).
func decodeFrame(hdr []byte, body []byte, dst []byte, c Compression) error {
	compLen := binary.LittleEndian.Uint32(hdr[4:])
	crc := binary.LittleEndian.Uint32(hdr[8:])

	if compLen == 0 {
		copy(dst, body)
	} else {
		switch c {
		case CompressionZstd:
			dec := getZstdDecoder()
			out, err := dec.DecodeAll(body, dst[:0])
			putZstdDecoder(dec)
			if err != nil {
				return fmt.Errorf("%w: zstd frame: %w", ErrCorrupt, err)
			}
			if len(out) != len(dst) {
				return fmt.Errorf("%w: zstd frame is %d bytes, want %d", ErrCorrupt, len(out), len(dst))
			}
			if len(out) > 0 && &out[0] != &dst[0] {
				copy(dst, out)
			}
		case CompressionLZ4:
			n, err := lz4.UncompressBlock(body, dst)
			if err != nil {
				return fmt.Errorf("%w: lz4 frame: %w", ErrCorrupt, err)
			}
			if n != len(dst) {
				return fmt.Errorf("%w: lz4 frame is %d bytes, want %d", ErrCorrupt, n, len(dst))
			}
		default:
			return fmt.Errorf("%w: compressed frame in uncompressed dump", ErrCorrupt)
		}
	}

	if err := hash.Verify(dst, crc); err != nil {
		return fmt.Errorf("%w: frame: %w", ErrCorrupt, err)
	}
	return nil
}

// frameWriter buffers body bytes and emits one frame per FrameSize bytes.
type frameWriter struct {
	emit func([]byte) error
	c    Compression
	buf  []byte
}

func newFrameWriter(c Compression, emit func([]byte) error) *frameWriter {
	return &frameWriter{emit: emit, c: c, buf: make([]byte, 0, FrameSize)}
}

func (f *frameWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := min(FrameSize-len(f.buf), len(p))
		f.buf = append(f.buf, p[:n]...)
		p = p[n:]
		total += n
		if len(f.buf) == FrameSize {
			if err := f.flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (f *frameWriter) flush() error {
	if len(f.buf) == 0 {
		return nil
	}
	frame, err := encodeFrame(f.buf, f.c)
	if err != nil {
		return err
	}
	f.buf = f.buf[:0]
	return f.emit(frame)
}

// frameReader decompresses one frame at a time into a ring of FrameSize
// bytes and never reads past the last frame the body needs.
type frameReader struct {
	fill func([]byte) error
	c    Compression
	ring []byte
	pos  int
	end  int
	body []byte
}

func newFrameReader(c Compression, fill func([]byte) error) *frameReader {
	return &frameReader{fill: fill, c: c, ring: make([]byte, FrameSize)}
}

func (f *frameReader) Read(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if f.pos == f.end {
			if err := f.next(); err != nil {
				return total, err
			}
		}
		n := copy(p, f.ring[f.pos:f.end])
		f.pos += n
		p = p[n:]
		total += n
	}
	return total, nil
}

// remaining returns decoded bytes not yet consumed.
func (f *frameReader) remaining() int { return f.end - f.pos }

func (f *frameReader) next() error {
	var hdr [frameHeaderSize]byte
	if err := f.fill(hdr[:]); err != nil {
		return err
	}
	rawLen := binary.LittleEndian.Uint32(hdr[0:])
	compLen := binary.LittleEndian.Uint32(hdr[4:])
	if rawLen == 0 || rawLen > FrameSize {
		return fmt.Errorf("%w: frame length %d", ErrCorrupt, rawLen)
	}
	bodyLen := rawLen
	if compLen != 0 {
		if compLen > uint32(lz4.CompressBlockBound(FrameSize)) { //nolint:gosec // constant bound
			return fmt.Errorf("%w: compressed frame length %d", ErrCorrupt, compLen)
		}
		bodyLen = compLen
	}
	if cap(f.body) < int(bodyLen) {
		f.body = make([]byte, bodyLen)
	}
	body := f.body[:bodyLen]
	if err := f.fill(body); err != nil {
		return err
	}
	if err := decodeFrame(hdr[:], body, f.ring[:rawLen], f.c); err != nil {
		return err
	}
	f.pos, f.end = 0, int(rawLen)
	return nil
}
