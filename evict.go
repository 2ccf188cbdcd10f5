package nodedb

import (
	"context"
	"errors"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

func (d *DB) touch(t *node.Type, idx uint32) {
	d.lru.Set(blockKey{typ: t.ID(), idx: idx}, t)
}

// EvictBlock unloads block idx of type typ from memory and returns the
// number of nodes dropped. The block must be saved; it is reloaded from
// the store on next access.
func (d *DB) EvictBlock(typ schema.TypeID, idx uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.typeLocked(typ)
	if err != nil {
		return 0, err
	}
	n, err := t.UnloadBlock(idx)
	if err != nil {
		return 0, err
	}
	d.lru.Remove(blockKey{typ: typ, idx: idx})
	t.GC()
	if n > 0 {
		d.metrics.RecordEvict(1, n)
	}
	return n, nil
}

// Evict unloads clean blocks, least recently used first, until memory is
// within the WithMemoryLimit budget. Dirty blocks are skipped; call
// Checkpoint first to make them evictable. It returns the number of
// blocks unloaded.
func (d *DB) Evict(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	return d.evictLocked(ctx, blockKey{})
}

// evictLocked unloads clean blocks other than keep while over budget.
func (d *DB) evictLocked(ctx context.Context, keep blockKey) int {
	blocks, nodes := 0, 0
	touched := make(map[schema.TypeID]*node.Type)
	for _, key := range d.lru.Keys() {
		if !d.rc.OverBudget() {
			break
		}
		if key == keep {
			continue
		}
		t, ok := d.types[key.typ]
		if !ok {
			d.lru.Remove(key)
			continue
		}
		st := t.BlockStatus(key.idx)
		if !st.InMemory() {
			d.lru.Remove(key)
			continue
		}
		if st.Dirty() || !st.OnDisk() {
			continue
		}
		n, err := t.UnloadBlock(key.idx)
		if err != nil {
			if !errors.Is(err, node.ErrBlockDirty) {
				d.logger.WithBlock(key.typ, key.idx).WarnContext(ctx, "evict failed", "error", err)
			}
			continue
		}
		d.lru.Remove(key)
		t.GC()
		touched[key.typ] = t
		blocks++
		nodes += n
	}
	if d.rc.OverBudget() {
		// Remaining nodes may be spread over every slab.
		for _, t := range touched {
			t.Defrag()
			t.GC()
		}
	}
	if blocks > 0 {
		d.metrics.RecordEvict(blocks, nodes)
		d.logger.LogEvict(ctx, blocks, nodes, d.rc.MemoryUsage())
	}
	return blocks
}
