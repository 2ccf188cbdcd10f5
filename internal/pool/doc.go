// Package pool implements a fixed-object-size slab allocator.
//
// A Pool hands out Refs, each naming a (slab, slot) pair inside an anonymous
// memory mapping. Slabs are mapped whole and never unmapped implicitly; GC
// releases slabs whose every slot is free. Defrag compacts live objects in a
// caller-defined order and reports the moves so owners can re-index.
//
// Pools are not safe for concurrent use.
package pool
