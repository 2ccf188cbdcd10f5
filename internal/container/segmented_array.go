// Package container implements container data structures.
package container

import (
	"sync"
	"sync/atomic"
)

const (
	// segmentBits determines the size of each segment.
	// 12 bits = 4096 slots per segment.
	segmentBits = 12
	segmentSize = 1 << segmentBits
	segmentMask = segmentSize - 1
)

// SegmentedArray is a sparse, append-grown array addressed by uint32 index.
//
// Readers are lock-free: Get may run concurrently with Set. Concurrent Set
// calls are serialized by an internal mutex only while the segment table
// grows. A slot that was never set reads as the zero value.
type SegmentedArray[T any] struct {
	segments atomic.Pointer[[]*segment[T]]
	mu       sync.Mutex // Protects growth
}

type segment[T any] struct {
	items [segmentSize]T
}

// NewSegmentedArray creates a new SegmentedArray.
func NewSegmentedArray[T any]() *SegmentedArray[T] {
	sa := &SegmentedArray[T]{}
	segments := make([]*segment[T], 0)
	sa.segments.Store(&segments)
	return sa
}

// Get returns the item at the given index.
// ok is false if the segment holding index was never allocated.
func (sa *SegmentedArray[T]) Get(index uint32) (item T, ok bool) {
	segments := sa.segments.Load()
	segIdx := int(index >> segmentBits)
	if segments == nil || segIdx >= len(*segments) {
		return item, false
	}
	seg := (*segments)[segIdx]
	if seg == nil {
		return item, false
	}
	return seg.items[index&segmentMask], true
}

// Set sets the item at the given index, allocating its segment if necessary.
func (sa *SegmentedArray[T]) Set(index uint32, value T) {
	segIdx := int(index >> segmentBits)

	segments := sa.segments.Load()
	if segments != nil && segIdx < len(*segments) && (*segments)[segIdx] != nil {
		(*segments)[segIdx].items[index&segmentMask] = value
		return
	}

	sa.mu.Lock()
	defer sa.mu.Unlock()

	segments = sa.segments.Load()
	var current []*segment[T]
	if segments != nil {
		current = *segments
	}

	if segIdx < len(current) && current[segIdx] != nil {
		current[segIdx].items[index&segmentMask] = value
		return
	}

	next := current
	if segIdx >= len(next) {
		grown := make([]*segment[T], segIdx+1)
		copy(grown, next)
		next = grown
	} else {
		// Copy so readers holding the old table never observe a torn write.
		next = append([]*segment[T](nil), current...)
	}
	next[segIdx] = &segment[T]{}
	next[segIdx].items[index&segmentMask] = value

	sa.segments.Store(&next)
}

// Range calls fn for every allocated slot in ascending index order until fn
// returns false. Slots holding the zero value are visited too.
func (sa *SegmentedArray[T]) Range(fn func(index uint32, item T) bool) {
	segments := sa.segments.Load()
	if segments == nil {
		return
	}
	for segIdx, seg := range *segments {
		if seg == nil {
			continue
		}
		base := uint32(segIdx) << segmentBits //nolint:gosec // segIdx < 2^20
		for i := range seg.items {
			if !fn(base|uint32(i), seg.items[i]) { //nolint:gosec // i < segmentSize
				return
			}
		}
	}
}

// Reset drops every segment.
func (sa *SegmentedArray[T]) Reset() {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	segments := make([]*segment[T], 0)
	sa.segments.Store(&segments)
}
