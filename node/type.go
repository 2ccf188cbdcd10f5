package node

import (
	"cmp"
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/nodedb/internal/container"
	"github.com/hupe1980/nodedb/internal/mmap"
	"github.com/hupe1980/nodedb/internal/pool"
	"github.com/hupe1980/nodedb/schema"
)

// Options configure the pools of a Type.
type Options struct {
	// SlabSize of the fixed-area pool; 0 uses pool.DefaultSlabSize.
	SlabSize int
	// Advice is applied to every slab.
	Advice mmap.AccessPattern
	// HugePages requests huge-page backed slabs.
	HugePages bool
	// Memory receives slab mapping deltas.
	Memory pool.MemoryTracker
}

// Type is the index of one registered node type.
type Type struct {
	id     schema.TypeID
	schema *schema.Schema
	opts   Options

	blocks    *container.SegmentedArray[*Block]
	populated *roaring.Bitmap // blocks with resident nodes
	nrBlocks  uint32

	fixed   *pool.Pool    // nil when the schema has no fixed fields
	aliases []*AliasIndex // by field index, nil for other fields
	colvecs []*colvec     // by field index, nil for other fields
	nrCol   int

	count    uint64 // durable nodes
	resident uint64
	maxNode  *Node
}

// NewType creates an empty index for schema s.
func NewType(id schema.TypeID, s *schema.Schema, opts Options) *Type {
	t := &Type{
		id:        id,
		schema:    s,
		opts:      opts,
		blocks:    container.NewSegmentedArray[*Block](),
		populated: roaring.New(),
		nrBlocks:  s.NrBlocks(),
		aliases:   make([]*AliasIndex, len(s.Fields)),
		colvecs:   make([]*colvec, len(s.Fields)),
	}
	if s.Template.FixedSize > 0 {
		t.fixed = pool.New(pool.Options{
			ObjectSize: s.Template.FixedSize,
			SlabSize:   opts.SlabSize,
			Advice:     opts.Advice,
			HugePages:  opts.HugePages,
			Memory:     opts.Memory,
		})
	}
	for _, i := range s.AliasFields() {
		t.aliases[i] = newAliasIndex(s.Fields[i].Type == schema.FieldAliases)
	}
	for _, i := range s.ColvecFields() {
		t.colvecs[i] = &colvec{field: &s.Fields[i], pos: t.nrCol}
		t.nrCol++
	}
	return t
}

// ID returns the type id.
func (t *Type) ID() schema.TypeID { return t.id }

// Schema returns the compiled schema.
func (t *Type) Schema() *schema.Schema { return t.schema }

// Count returns the durable node count, resident or not.
func (t *Type) Count() uint64 { return t.count }

// Resident returns the number of nodes in memory.
func (t *Type) Resident() uint64 { return t.resident }

// NrBlocks returns the number of blocks covering the id space.
func (t *Type) NrBlocks() uint32 { return t.nrBlocks }

// BlockIndex returns the block holding id.
func (t *Type) BlockIndex(id ID) uint32 { return t.schema.BlockIndex(uint64(id)) }

// Block returns block idx or nil if it was never used.
func (t *Type) Block(idx uint32) *Block {
	b, _ := t.blocks.Get(idx)
	return b
}

// BlockStatus returns the status of block idx, 0 if never used.
func (t *Type) BlockStatus(idx uint32) Status {
	if b := t.Block(idx); b != nil {
		return b.Status()
	}
	return 0
}

// Blocks yields every used block in ascending order.
func (t *Type) Blocks() iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		t.blocks.Range(func(_ uint32, b *Block) bool {
			if b == nil {
				return true
			}
			return yield(b)
		})
	}
}

func (t *Type) block(idx uint32) *Block {
	if b := t.Block(idx); b != nil {
		return b
	}
	b := newBlock(idx, t.nrCol)
	t.blocks.Set(idx, b)
	return b
}

func validID(id ID) bool { return id != 0 && id <= schema.MaxNodeID }

// Upsert returns the node with id, creating it from the schema template if
// absent. created reports a new node. Upserting into a block that exists
// only on disk fails with ErrBlockNotLoaded unless BeginLoad was called.
func (t *Type) Upsert(id ID) (n *Node, created bool, err error) {
	if !validID(id) {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidNodeID, id)
	}
	idx := t.BlockIndex(id)
	b := t.block(idx)
	if b.Status().NeedsLoad() {
		return nil, false, fmt.Errorf("%w: type %d block %d", ErrBlockNotLoaded, t.id, idx)
	}

	// Ids above the cached max within its block cannot be present.
	fast := t.maxNode != nil && id > t.maxNode.id && t.maxNode.blk == b
	if !fast {
		if n, ok := b.nodes[uint32(id)]; ok { //nolint:gosec // validated id
			return n, false, nil
		}
	}

	n = &Node{id: id, typ: t, blk: b}
	n.fields.slots = make([]schema.Slot, len(t.schema.Template.Slots))
	copy(n.fields.slots, t.schema.Template.Slots)
	if t.fixed != nil {
		n.fields.fixed = t.fixed.Get()
		if d := t.schema.Template.Defaults; d != nil {
			copy(t.fixed.Bytes(n.fields.fixed), d)
		}
	}

	b.insert(n)
	b.count++
	t.count++
	t.resident++
	t.populated.Add(idx)
	b.setFlags(StatusInMemory | StatusDirty)

	if t.maxNode == nil || id > t.maxNode.id {
		t.maxNode = n
	}
	return n, true, nil
}

// Find returns the node with id and its block status. A nil node with a
// status that NeedsLoad tells the caller to load the block.
func (t *Type) Find(id ID) (*Node, Status) {
	if !validID(id) {
		return nil, 0
	}
	b := t.Block(t.BlockIndex(id))
	if b == nil {
		return nil, 0
	}
	st := b.Status()
	if !st.InMemory() {
		return nil, st
	}
	return b.nodes[uint32(id)], st //nolint:gosec // validated id
}

// NFind returns the first resident node with an id >= id. If the block
// holding id needs loading, it returns nil and that block's status.
func (t *Type) NFind(id ID) (*Node, Status) {
	if id == 0 {
		id = 1
	}
	if id > schema.MaxNodeID {
		return nil, 0
	}
	idx := t.BlockIndex(id)
	if b := t.Block(idx); b != nil {
		st := b.Status()
		if st.NeedsLoad() {
			return nil, st
		}
		it := b.ids.Iterator()
		it.AdvanceIfNeeded(uint32(id)) //nolint:gosec // validated id
		if it.HasNext() {
			return b.nodes[it.Next()], st
		}
	}
	if nb, ok := t.nextBlock(idx); ok {
		b := t.Block(nb)
		return b.nodes[b.ids.Minimum()], b.Status()
	}
	return nil, 0
}

// Min returns the resident node with the lowest id.
func (t *Type) Min() *Node {
	if t.populated.IsEmpty() {
		return nil
	}
	b := t.Block(t.populated.Minimum())
	return b.nodes[b.ids.Minimum()]
}

// Max returns the resident node with the highest id.
func (t *Type) Max() *Node {
	if t.populated.IsEmpty() {
		return nil
	}
	b := t.Block(t.populated.Maximum())
	return b.nodes[b.ids.Maximum()]
}

// Next returns the resident node following n, skipping blocks not in memory.
func (t *Type) Next(n *Node) *Node {
	b := n.blk
	r := b.ids.Rank(uint32(n.id)) //nolint:gosec // validated id
	if r < b.ids.GetCardinality() {
		id, err := b.ids.Select(uint32(r)) //nolint:gosec // r < cardinality
		if err == nil {
			return b.nodes[id]
		}
	}
	if nb, ok := t.nextBlock(b.idx); ok {
		b := t.Block(nb)
		return b.nodes[b.ids.Minimum()]
	}
	return nil
}

// Prev returns the resident node preceding n. Every lower block is
// considered, not only the adjacent one.
func (t *Type) Prev(n *Node) *Node {
	b := n.blk
	r := b.ids.Rank(uint32(n.id)) //nolint:gosec // validated id
	if r >= 2 {
		id, err := b.ids.Select(uint32(r - 2)) //nolint:gosec // r < cardinality
		if err == nil {
			return b.nodes[id]
		}
	}
	if pb, ok := t.prevBlock(b.idx); ok {
		b := t.Block(pb)
		return b.nodes[b.ids.Maximum()]
	}
	return nil
}

// All yields resident nodes in ascending id order.
func (t *Type) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		it := t.populated.Iterator()
		for it.HasNext() {
			for n := range t.Block(it.Next()).Nodes() {
				if !yield(n) {
					return
				}
			}
		}
	}
}

func (t *Type) nextBlock(idx uint32) (uint32, bool) {
	r := t.populated.Rank(idx)
	if r >= t.populated.GetCardinality() {
		return 0, false
	}
	nb, err := t.populated.Select(uint32(r)) //nolint:gosec // r < cardinality
	return nb, err == nil
}

func (t *Type) prevBlock(idx uint32) (uint32, bool) {
	r := t.populated.Rank(idx)
	if t.populated.Contains(idx) {
		r--
	}
	if r == 0 {
		return 0, false
	}
	pb, err := t.populated.Select(uint32(r - 1)) //nolint:gosec // r <= cardinality
	return pb, err == nil
}

// Delete removes n: its aliases and columnar vectors are dropped, its
// memory returned, counts decremented and the block marked dirty.
func (t *Type) Delete(n *Node) {
	b := n.blk
	for i, a := range t.aliases {
		if a != nil {
			a.delDest(n.id)
		}
		if c := t.colvecs[i]; c != nil {
			_ = t.colvecReset(i, n.id)
		}
	}
	t.detach(n)
	b.count--
	t.count--
	b.setFlags(StatusDirty)
}

// Unload drops n from memory without changing durable counts. The block
// must be saved first; UnloadBlock checks that.
func (t *Type) Unload(n *Node) {
	for _, a := range t.aliases {
		if a != nil {
			a.delDest(n.id)
		}
	}
	t.detach(n)
}

func (t *Type) detach(n *Node) {
	b := n.blk
	b.remove(n)
	t.resident--
	if b.ids.IsEmpty() {
		t.populated.Remove(b.idx)
	}
	if t.maxNode == n {
		t.maxNode = nil
		t.maxNode = t.Max()
	}
	n.release()
}

// UnloadBlock evicts block idx from memory and returns the number of nodes
// dropped. The block must be on disk and clean.
func (t *Type) UnloadBlock(idx uint32) (int, error) {
	b := t.Block(idx)
	if b == nil {
		return 0, nil
	}
	st := b.Status()
	if !st.InMemory() {
		return 0, nil
	}
	if st.Dirty() || !st.OnDisk() {
		return 0, fmt.Errorf("%w: type %d block %d (%s)", ErrBlockDirty, t.id, idx, st)
	}
	n := t.dropResident(b)
	b.store(StatusOnDisk)
	return n, nil
}

func (t *Type) dropResident(b *Block) int {
	nodes := make([]*Node, 0, b.Len())
	for n := range b.Nodes() {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		t.Unload(n)
	}
	t.freeColvecs(b)
	return len(nodes)
}

// MarkDirty flags the block holding id as dirty.
func (t *Type) MarkDirty(id ID) error {
	if !validID(id) {
		return fmt.Errorf("%w: %d", ErrInvalidNodeID, id)
	}
	t.block(t.BlockIndex(id)).setFlags(StatusDirty)
	return nil
}

// SetOnDisk records that block idx has a dump holding count nodes with the
// given content hash. Used when reading the common dump.
func (t *Type) SetOnDisk(idx uint32, count uint32, hash uint64) {
	b := t.block(idx)
	if !b.Status().InMemory() {
		t.count -= uint64(b.count)
		b.count = count
		t.count += uint64(count)
	}
	b.hash = hash
	b.setFlags(StatusOnDisk)
}

// MarkSaved records a successful dump of block idx.
func (t *Type) MarkSaved(idx uint32, hash uint64) {
	b := t.block(idx)
	b.hash = hash
	st := b.Status()
	b.store(st&^StatusDirty | StatusOnDisk)
}

// BeginLoad prepares block idx to be populated from a dump: it is flagged
// in memory so Upsert accepts it, and its durable count restarts from zero.
func (t *Type) BeginLoad(idx uint32) {
	b := t.block(idx)
	b.saved = b.count
	b.prior = b.Status()
	t.count -= uint64(b.count)
	b.count = 0
	b.setFlags(StatusInMemory)
}

// EndLoad completes a load: the block is in memory, on disk and clean.
func (t *Type) EndLoad(idx uint32) {
	t.block(idx).store(StatusInMemory | StatusOnDisk)
}

// AbortLoad discards whatever a failed load inserted and restores the
// status the block had before BeginLoad.
func (t *Type) AbortLoad(idx uint32) {
	b := t.block(idx)
	t.dropResident(b)
	t.count -= uint64(b.count)
	b.count = b.saved
	t.count += uint64(b.saved)
	b.store(b.prior)
}

// Defrag compacts the fixed-area pool in id order, trims dynamic buffers
// and returns the number of nodes whose fixed area moved.
func (t *Type) Defrag() int {
	owners := make(map[pool.Ref]*Node, t.resident)
	for n := range t.All() {
		n.compact()
		if !n.fields.fixed.IsNil() {
			owners[n.fields.fixed] = n
		}
	}
	if t.fixed == nil {
		return 0
	}
	moves := t.fixed.Defrag(func(a, b pool.Ref) int {
		return cmp.Compare(owners[a].id, owners[b].id)
	})
	for from, to := range moves {
		owners[from].fields.fixed = to
	}
	return len(moves)
}

// GC releases fully free slabs and returns how many were unmapped.
func (t *Type) GC() int {
	released := 0
	if t.fixed != nil {
		released += t.fixed.GC()
	}
	for _, c := range t.colvecs {
		if c != nil && c.pool != nil {
			released += c.pool.GC()
		}
	}
	return released
}

// Destroy deletes every node and unmaps all memory.
func (t *Type) Destroy() {
	for b := range t.Blocks() {
		for n := range b.Nodes() {
			n.typ, n.blk = nil, nil
		}
	}
	t.blocks.Reset()
	t.populated.Clear()
	for _, a := range t.aliases {
		if a != nil {
			a.reset()
		}
	}
	if t.fixed != nil {
		t.fixed.Free()
	}
	for _, c := range t.colvecs {
		if c != nil && c.pool != nil {
			c.pool.Free()
			c.pool = nil
		}
	}
	t.count, t.resident, t.maxNode = 0, 0, nil
}

// Stats describe a type.
type Stats struct {
	Nodes       uint64
	Resident    uint64
	Blocks      int
	InMemory    int
	OnDisk      int
	Dirty       int
	MappedBytes int64
}

// Stats returns counters for t.
func (t *Type) Stats() Stats {
	s := Stats{Nodes: t.count, Resident: t.resident}
	for b := range t.Blocks() {
		s.Blocks++
		st := b.Status()
		if st.InMemory() {
			s.InMemory++
		}
		if st.OnDisk() {
			s.OnDisk++
		}
		if st.Dirty() {
			s.Dirty++
		}
	}
	if t.fixed != nil {
		s.MappedBytes += t.fixed.Stats().MappedBytes
	}
	for _, c := range t.colvecs {
		if c != nil && c.pool != nil {
			s.MappedBytes += c.pool.Stats().MappedBytes
		}
	}
	return s
}
