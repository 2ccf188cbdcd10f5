// Package node implements the per-type node index.
//
// A Type partitions the id space [1, 2^32) into blocks of the schema's block
// capacity. Every block keeps a roaring bitmap of its resident node ids, the
// records themselves, a durable node count and an atomic status word
// (StatusInMemory, StatusOnDisk, StatusDirty). Blocks can be unloaded once
// their content is on disk and loaded back one at a time.
//
// Node records keep fixed fields in a pool chunk laid out by the schema
// template and dynamic fields in a separate buffer that can be shared
// copy-on-write. Aliases and columnar vectors are stored per type.
//
// The package does no I/O and is not safe for concurrent mutation. Block
// status may be read from other goroutines: a reader that observes
// StatusInMemory also observes the populated block.
package node
