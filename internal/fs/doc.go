// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [File]: an open dump file (read/write/seek/sync)
//   - [FileSystem]: open, remove, rename, stat, mkdir
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: wraps a FileSystem and fails writes/syncs/closes on matching files
//
// Tests inject [FaultyFS] to exercise partially written dumps:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("block", fs.Fault{FailAfterBytes: 128})
package fs
