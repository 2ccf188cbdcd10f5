package node

import (
	"iter"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/nodedb/internal/pool"
)

// Status is a block's residency bitmask.
type Status uint32

const (
	// StatusInMemory means the block's index is populated and authoritative.
	StatusInMemory Status = 1 << iota
	// StatusOnDisk means a dump of the block exists.
	StatusOnDisk
	// StatusDirty means the in-memory content differs from the dump.
	StatusDirty
)

// InMemory reports the StatusInMemory bit.
func (s Status) InMemory() bool { return s&StatusInMemory != 0 }

// OnDisk reports the StatusOnDisk bit.
func (s Status) OnDisk() bool { return s&StatusOnDisk != 0 }

// Dirty reports the StatusDirty bit.
func (s Status) Dirty() bool { return s&StatusDirty != 0 }

// NeedsLoad reports whether the block exists only on disk.
func (s Status) NeedsLoad() bool { return s.OnDisk() && !s.InMemory() }

func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	if s.InMemory() {
		parts = append(parts, "in_memory")
	}
	if s.OnDisk() {
		parts = append(parts, "on_disk")
	}
	if s.Dirty() {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "|")
}

// Block is one fixed-capacity shard of a type's id space.
type Block struct {
	idx    uint32
	status atomic.Uint32

	ids   *roaring.Bitmap
	nodes map[uint32]*Node

	count uint32 // durable nodes, resident or not
	saved uint32 // count before a load began
	prior Status // status before a load began
	hash  uint64 // content hash of the on-disk copy

	colvecs []pool.Ref // one per columnar field, nil until written
}

func newBlock(idx uint32, nrColvec int) *Block {
	return &Block{
		idx:     idx,
		ids:     roaring.New(),
		nodes:   make(map[uint32]*Node),
		colvecs: make([]pool.Ref, nrColvec),
	}
}

// Index returns the block index.
func (b *Block) Index() uint32 { return b.idx }

// Status loads the status word.
func (b *Block) Status() Status { return Status(b.status.Load()) }

func (b *Block) setFlags(f Status)   { b.status.Or(uint32(f)) }
func (b *Block) clearFlags(f Status) { b.status.And(^uint32(f)) }
func (b *Block) store(s Status)      { b.status.Store(uint32(s)) }

// Len returns the number of resident nodes.
func (b *Block) Len() int { return len(b.nodes) }

// Count returns the durable node count, including nodes not resident.
func (b *Block) Count() uint32 { return b.count }

// DiskHash returns the content hash recorded for the on-disk copy.
func (b *Block) DiskHash() uint64 { return b.hash }

// IDs yields resident node ids in ascending order.
func (b *Block) IDs() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		it := b.ids.Iterator()
		for it.HasNext() {
			if !yield(ID(it.Next())) {
				return
			}
		}
	}
}

// Nodes yields resident nodes in ascending id order.
func (b *Block) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		it := b.ids.Iterator()
		for it.HasNext() {
			if !yield(b.nodes[it.Next()]) {
				return
			}
		}
	}
}

func (b *Block) insert(n *Node) {
	id := uint32(n.id) //nolint:gosec // validated id
	b.ids.Add(id)
	b.nodes[id] = n
}

func (b *Block) remove(n *Node) {
	id := uint32(n.id) //nolint:gosec // validated id
	b.ids.Remove(id)
	delete(b.nodes, id)
}

// HasColvec reports whether any columnar slab is allocated.
func (b *Block) HasColvec() bool {
	for _, r := range b.colvecs {
		if !r.IsNil() {
			return true
		}
	}
	return false
}
