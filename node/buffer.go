package node

import (
	"bytes"
	"sync/atomic"
)

// SharedBuffer is a node's dynamic field buffer shared with other holders.
// Holders must treat Bytes as read-only and call Release when done. The node
// copies the buffer before its next write unless it is the last holder.
type SharedBuffer struct {
	refs atomic.Int32
	data []byte
}

// Bytes returns the shared buffer.
func (s *SharedBuffer) Bytes() []byte { return s.data }

// Refs returns the number of holders.
func (s *SharedBuffer) Refs() int32 { return s.refs.Load() }

// Release drops one reference.
func (s *SharedBuffer) Release() {
	if s.refs.Add(-1) == 0 {
		s.data = nil
	}
}

// dynBuffer is either owned by the node or shared.
type dynBuffer struct {
	owned  []byte
	shared *SharedBuffer
}

func (b *dynBuffer) bytes() []byte {
	if b.shared != nil {
		return b.shared.data
	}
	return b.owned
}

func (b *dynBuffer) isShared() bool { return b.shared != nil }

// mutable converts a shared buffer back to an owned one.
func (b *dynBuffer) mutable() []byte {
	s := b.shared
	if s == nil {
		return b.owned
	}
	b.shared = nil
	if s.refs.Load() == 1 {
		b.owned = s.data
		s.data = nil
		s.refs.Store(0)
		return b.owned
	}
	b.owned = bytes.Clone(s.data)
	s.Release()
	return b.owned
}

func (b *dynBuffer) share() *SharedBuffer {
	if b.shared == nil {
		s := &SharedBuffer{data: b.owned}
		s.refs.Store(1)
		b.shared = s
		b.owned = nil
	}
	b.shared.refs.Add(1)
	return b.shared
}

func (b *dynBuffer) set(data []byte) {
	if b.shared != nil {
		b.shared.Release()
		b.shared = nil
	}
	b.owned = data
}

func (b *dynBuffer) size() int { return len(b.bytes()) }
