package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/nodedb/internal/resource"
)

// LRU is a size-bounded least-recently-used map. It is safe for
// concurrent use.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	sizeOf    func(V) int64
	onEvict   func(K, V)
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// Options configure an LRU.
type Options[K comparable, V any] struct {
	// Capacity in bytes as reported by SizeOf. Zero means unbounded.
	Capacity int64
	// SizeOf returns the cost of a value. Nil counts every value as zero.
	SizeOf func(V) int64
	// OnEvict is called, with the lock held, for entries dropped to make
	// room. It is not called for Remove or Invalidate.
	OnEvict func(K, V)
	// Resource reserves the size of every cached value against the hard
	// memory limit. Values that do not fit are not cached.
	Resource *resource.Controller
}

// NewLRU creates an LRU.
func NewLRU[K comparable, V any](opts Options[K, V]) *LRU[K, V] {
	return &LRU[K, V]{
		capacity:  opts.Capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		sizeOf:    opts.SizeOf,
		onEvict:   opts.OnEvict,
		rc:        opts.Resource,
	}
}

func (c *LRU[K, V]) cost(v V) int64 {
	if c.sizeOf == nil {
		return 0
	}
	return c.sizeOf(v)
}

// Get returns a cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Contains reports whether key is cached without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Set caches value and reports whether it was admitted. An update that the
// resource controller denies keeps the old value.
func (c *LRU[K, V]) Set(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := c.cost(value)

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[K, V])
		if itemSize > e.size {
			if err := c.rc.Reserve(itemSize - e.size); err != nil {
				return false
			}
		} else {
			c.rc.Unreserve(e.size - itemSize)
		}
		c.size += itemSize - e.size
		e.value, e.size = value, itemSize
		c.evict()
		return true
	}

	if c.capacity > 0 && itemSize > c.capacity {
		return false
	}

	// Make room locally first so evictions release reserved memory.
	for c.capacity > 0 && c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.evictElement(ent)
	}

	if err := c.rc.Reserve(itemSize); err != nil {
		return false
	}

	element := c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: itemSize})
	c.items[key] = element
	c.size += itemSize
	return true
}

// Remove drops key and reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
		return true
	}
	return false
}

// Invalidate removes entries matching the predicate and returns how many.
func (c *LRU[K, V]) Invalidate(predicate func(key K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
	return len(toRemove)
}

// Oldest returns the least recently used entry without touching recency.
func (c *LRU[K, V]) Oldest() (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent := c.evictList.Back(); ent != nil {
		e := ent.Value.(*entry[K, V])
		return e.key, e.value, true
	}
	var (
		k K
		v V
	)
	return k, v, false
}

// Keys returns keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.items))
	for ent := c.evictList.Back(); ent != nil; ent = ent.Prev() {
		keys = append(keys, ent.Value.(*entry[K, V]).key)
	}
	return keys
}

func (c *LRU[K, V]) evict() {
	for c.capacity > 0 && c.size > c.capacity {
		element := c.evictList.Back()
		if element == nil {
			break
		}
		c.evictElement(element)
	}
}

func (c *LRU[K, V]) evictElement(e *list.Element) {
	kv := c.removeElement(e)
	if c.onEvict != nil {
		c.onEvict(kv.key, kv.value)
	}
}

func (c *LRU[K, V]) removeElement(e *list.Element) *entry[K, V] {
	c.evictList.Remove(e)
	kv := e.Value.(*entry[K, V])
	delete(c.items, kv.key)
	c.size -= kv.size
	c.rc.Unreserve(kv.size)
	return kv
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the current size of the cache in bytes.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
