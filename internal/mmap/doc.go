// Package mmap provides anonymous and file-backed memory mappings.
//
// # Anonymous Mappings
//
// MapAnon creates read-write anonymous mappings outside the Go heap. The slab
// pool allocator obtains every slab this way so that node storage does not add
// GC pressure and can be handed back to the OS one slab at a time.
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessHugePage)
//
// # File Mappings
//
// Open maps a file read-only. Dump verification and the local blob store use
// it to read whole dump files without copying them through kernel buffers.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) for access hints
//   - Windows: VirtualAlloc / MapViewOfFile; only AccessDontNeed on anonymous
//     regions has an effect
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must ensure no
// goroutine touches Bytes() after Close() returns.
package mmap
