// Package blobstore provides the backing store for nodedb dumps.
//
// A database checkpoint writes one blob per block dump and one common
// dump. Names follow a fixed scheme:
//
//	common.sdb          database identity, schemas, expirations, id tables
//	t<type>/b<block>.sdb  one block of one type
//
// Store implementations must be safe for concurrent use and must replace
// blobs atomically on Put.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap reads and rename-on-put
//   - MemoryStore: In-memory, for tests
//   - CachingStore: Whole-blob LRU cache in front of another Store
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible servers
package blobstore
