// Package cache provides a generic size-bounded LRU.
//
// The database uses it twice: blobstore.CachingStore keeps recently read
// dumps of a remote store in memory, and the block eviction list tracks
// resident blocks from least to most recently used.
//
// Sizes are reserved against an optional resource.Controller so cached
// bytes count toward the hard memory limit.
package cache
