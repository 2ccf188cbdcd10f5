package hash

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// CRC32CBigEndian returns the checksum in the byte order object stores
// expect in their checksum headers.
func CRC32CBigEndian(data []byte) []byte {
	return binary.BigEndian.AppendUint32(nil, CRC32C(data))
}

// MismatchError reports data that does not hash to the stored checksum.
type MismatchError struct {
	Want uint32
	Got  uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("crc32c mismatch: stored %08x, computed %08x", e.Want, e.Got)
}

// Verify returns a *MismatchError if data does not hash to want.
func Verify(data []byte, want uint32) error {
	if got := CRC32C(data); got != want {
		return &MismatchError{Want: want, Got: got}
	}
	return nil
}
