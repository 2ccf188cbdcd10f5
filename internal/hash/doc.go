// Package hash provides the frame checksum used by compressed dump streams.
//
// Every compressed frame in an SDB dump carries the CRC32-Castagnoli checksum
// of its uncompressed bytes, so a corrupt frame is reported at the frame that
// failed instead of only at the trailing file hash.
//
//	sum := hash.CRC32C(raw)
//
// Go's hash/crc32 uses SSE4.2 / ARM CRC instructions when available.
package hash
