package blobstore

import (
	"context"

	"github.com/hupe1980/nodedb/internal/cache"
	"github.com/hupe1980/nodedb/internal/resource"
)

// CachingStore wraps a Store and keeps recently read blobs in memory.
// Dumps are immutable once written, so a cached copy stays valid until
// the next Put or Delete of the same name through this store.
type CachingStore struct {
	inner Store
	cache *cache.LRU[string, []byte]
}

// NewCachingStore creates a new CachingStore holding up to capacity bytes.
// If rc is set, cached bytes are reserved against its memory limit.
func NewCachingStore(inner Store, capacity int64, rc *resource.Controller) *CachingStore {
	return &CachingStore{
		inner: inner,
		cache: cache.NewLRU(cache.Options[string, []byte]{
			Capacity: capacity,
			SizeOf:   func(b []byte) int64 { return int64(len(b)) },
			Resource: rc,
		}),
	}
}

// Open serves name from the cache, reading it whole from the inner store
// on a miss.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return &memoryBlob{data: data}, nil
	}
	data, err := ReadAll(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, data)
	return &memoryBlob{data: data}, nil
}

// Put writes through and invalidates the cached copy.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Remove(name)
	return s.inner.Put(ctx, name, data)
}

// Delete removes the blob and its cached copy.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Remove(name)
	return s.inner.Delete(ctx, name)
}

// List delegates to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns cache hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.cache.Stats()
}

// CachedBytes returns the bytes currently cached.
func (s *CachingStore) CachedBytes() int64 {
	return s.cache.Size()
}
