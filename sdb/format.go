package sdb

import (
	"encoding/binary"
	"fmt"
)

// Format versions.
const (
	// FormatV1 stores weak references and has no columnar section.
	FormatV1 uint32 = 1
	// FormatV2 adds columnar vector slabs and drops weak references.
	FormatV2 uint32 = 2
	// FormatCurrent is written by default.
	FormatCurrent = FormatV2
	// FormatMin is the oldest readable version.
	FormatMin = FormatV1
)

// Flags describe a dump.
type Flags uint32

const (
	FlagCommon Flags = 1 << iota
	FlagBlock
	FlagZstd
	FlagLZ4

	flagsKnown = FlagCommon | FlagBlock | FlagZstd | FlagLZ4
)

func (f Flags) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f&FlagCommon != 0 {
		add("common")
	}
	if f&FlagBlock != 0 {
		add("block")
	}
	if f&FlagZstd != 0 {
		add("zstd")
	}
	if f&FlagLZ4 != 0 {
		add("lz4")
	}
	if s == "" {
		return fmt.Sprintf("flags(%#x)", uint32(f))
	}
	return s
}

const (
	magicLen   = 8
	versionLen = 40
	// HeaderSize is the size of the dump header.
	HeaderSize = magicLen + 2*versionLen + 4 + 4
	// FooterSize is the size of the dump footer.
	FooterSize = magicLen + 32
)

var (
	fileMagic = [magicLen]byte{'N', 'O', 'D', 'E', 'D', 'B', 0x00, 0x01}
	endMagic  = [magicLen]byte{'N', 'O', 'D', 'E', 'D', 'B', 0xFF, 0xFF}
)

// Section magics.
var (
	magicDBInfo    = magic("DBINFO\x00\x00")
	magicSchemas   = magic("SCHEMAS\x00")
	magicExpire    = magic("EXPIRE\x00\x00")
	magicIDTables  = magic("IDTABLE\x00")
	magicBlock     = magic("BLOCK\x00\x00\x00")
	magicNode      = magic("NODE\x00\x00\x00\x00")
	magicNodeEnd   = magic("NODEEND\x00")
	magicAliases   = magic("ALIASES\x00")
	magicColvec    = magic("COLVEC\x00\x00")
	magicBlockHash = magic("BLKHASH\x00")
	magicSection   = magic("SECTEND\x00")
)

func magic(s string) uint64 {
	return binary.LittleEndian.Uint64([]byte(s))
}

func magicName(m uint64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], m)
	n := 0
	for n < len(b) && b[n] >= 0x20 && b[n] < 0x7F {
		n++
	}
	if n == 0 {
		return fmt.Sprintf("%#016x", m)
	}
	return string(b[:n])
}

// Header is the decoded dump header.
type Header struct {
	CreatedWith string
	UpdatedWith string
	Version     uint32
	Flags       Flags
}

// Compression returns the body compression named by the flags.
func (h Header) Compression() Compression {
	switch {
	case h.Flags&FlagZstd != 0:
		return CompressionZstd
	case h.Flags&FlagLZ4 != 0:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, fileMagic[:])
	copy(buf[magicLen:magicLen+versionLen], h.CreatedWith)
	copy(buf[magicLen+versionLen:magicLen+2*versionLen], h.UpdatedWith)
	binary.LittleEndian.PutUint32(buf[magicLen+2*versionLen:], h.Version)
	binary.LittleEndian.PutUint32(buf[magicLen+2*versionLen+4:], uint32(h.Flags))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if [magicLen]byte(buf[:magicLen]) != fileMagic {
		return Header{}, fmt.Errorf("%w: file magic %q", ErrBadMagic, buf[:magicLen])
	}
	h := Header{
		CreatedWith: cstring(buf[magicLen : magicLen+versionLen]),
		UpdatedWith: cstring(buf[magicLen+versionLen : magicLen+2*versionLen]),
		Version:     binary.LittleEndian.Uint32(buf[magicLen+2*versionLen:]),
		Flags:       Flags(binary.LittleEndian.Uint32(buf[magicLen+2*versionLen+4:])),
	}
	if h.Version < FormatMin {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Version > FormatCurrent {
		return h, fmt.Errorf("%w: %d > %d", ErrVersionTooNew, h.Version, FormatCurrent)
	}
	if h.Flags&^flagsKnown != 0 || h.Flags&(FlagZstd|FlagLZ4) == FlagZstd|FlagLZ4 {
		return h, fmt.Errorf("%w: flags %#x", ErrCorrupt, uint32(h.Flags))
	}
	return h, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
