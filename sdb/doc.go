// Package sdb implements the SDB dump format.
//
// A dump is a fixed header, a body of magic-tagged sections and a footer:
//
//	header  magic[8] | created_with[40] | updated_with[40] | u32 version | u32 flags
//	body    sections, optionally split into compressed 64 KiB frames
//	footer  end_magic[8] | sha3_256[32]
//
// The footer hash covers every byte of the file before the footer, as
// stored, so QuickVerify can check a dump without parsing it.
//
// Two dump kinds exist. A common dump (FlagCommon) holds the database
// identity, every type schema, the expiration list and per-type block
// tables. A block dump (FlagBlock) holds the resident nodes of one block,
// their aliases, columnar slabs (FormatV2 and later) and a content hash
// over the per-node hashes so each block is verifiable on its own.
//
// Carriers abstract where bytes go: FileCarrier writes through an
// fs.FileSystem, MemCarrier keeps the dump in a growable buffer.
package sdb
