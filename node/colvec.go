package node

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/nodedb/internal/pool"
	"github.com/hupe1980/nodedb/schema"
)

// colvec stores one columnar field as one slab per block, each holding
// BlockCapacity vectors addressed by (id-1) % BlockCapacity.
type colvec struct {
	field *schema.FieldSchema
	pos   int
	pool  *pool.Pool
}

func (t *Type) colvecField(field int) (*colvec, error) {
	f := t.schema.Field(field)
	if f == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoField, field)
	}
	c := t.colvecs[field]
	if c == nil {
		return nil, fmt.Errorf("%w: field %d is %s", ErrFieldType, field, f.Type)
	}
	return c, nil
}

// SlabSize returns the bytes of one block's slab for a columnar field.
func (t *Type) SlabSize(field int) int {
	c, err := t.colvecField(field)
	if err != nil {
		return 0
	}
	return t.slabSize(c)
}

func (t *Type) slabSize(c *colvec) int {
	return int(t.schema.BlockCapacity) * c.field.VectorSize()
}

func (t *Type) colvecPool(c *colvec) *pool.Pool {
	if c.pool == nil {
		size := t.slabSize(c)
		c.pool = pool.New(pool.Options{
			ObjectSize: size,
			SlabSize:   size,
			Advice:     t.opts.Advice,
			HugePages:  t.opts.HugePages,
			Memory:     t.opts.Memory,
		})
	}
	return c.pool
}

func (t *Type) colvecSlot(c *colvec, id ID) int {
	return int((uint64(id)-1)%uint64(t.schema.BlockCapacity)) * c.field.VectorSize()
}

// ColvecGet returns a copy of the vector of id, or the field default (zeros
// if none) when nothing was written to its block.
func (t *Type) ColvecGet(field int, id ID) ([]byte, error) {
	c, err := t.colvecField(field)
	if err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeID, id)
	}
	vs := c.field.VectorSize()
	b := t.Block(t.BlockIndex(id))
	if b != nil && b.Status().NeedsLoad() {
		return nil, fmt.Errorf("%w: type %d block %d", ErrBlockNotLoaded, t.id, b.idx)
	}
	if b == nil || b.colvecs[c.pos].IsNil() {
		if c.field.Default != nil {
			return bytes.Clone(c.field.Default), nil
		}
		return make([]byte, vs), nil
	}
	off := t.colvecSlot(c, id)
	return bytes.Clone(c.pool.Bytes(b.colvecs[c.pos])[off : off+vs]), nil
}

// ColvecSet writes the vector of id. It does not mark the block dirty;
// callers batch writes and call MarkDirty.
func (t *Type) ColvecSet(field int, id ID, v []byte) error {
	c, err := t.colvecField(field)
	if err != nil {
		return err
	}
	if !validID(id) {
		return fmt.Errorf("%w: %d", ErrInvalidNodeID, id)
	}
	if vs := c.field.VectorSize(); len(v) != vs {
		return fmt.Errorf("%w: vector is %d bytes, field %d wants %d", ErrFieldType, len(v), field, vs)
	}
	b := t.block(t.BlockIndex(id))
	if b.Status().NeedsLoad() {
		return fmt.Errorf("%w: type %d block %d", ErrBlockNotLoaded, t.id, b.idx)
	}
	slab := t.ensureSlab(c, b)
	copy(slab[t.colvecSlot(c, id):], v)
	return nil
}

func (t *Type) ensureSlab(c *colvec, b *Block) []byte {
	p := t.colvecPool(c)
	if b.colvecs[c.pos].IsNil() {
		b.colvecs[c.pos] = p.Get()
		slab := p.Bytes(b.colvecs[c.pos])
		if d := c.field.Default; d != nil {
			for off := 0; off < len(slab); off += len(d) {
				copy(slab[off:], d)
			}
		}
		b.setFlags(StatusInMemory)
	}
	return p.Bytes(b.colvecs[c.pos])
}

// ColvecSlab returns the slab of block idx for a columnar field, nil if the
// block has none. The slice is valid until the block is unloaded.
func (t *Type) ColvecSlab(field int, idx uint32) []byte {
	c, err := t.colvecField(field)
	if err != nil {
		return nil
	}
	b := t.Block(idx)
	if b == nil || b.colvecs[c.pos].IsNil() {
		return nil
	}
	return c.pool.Bytes(b.colvecs[c.pos])
}

// LoadColvecSlab installs a whole slab for block idx.
func (t *Type) LoadColvecSlab(field int, idx uint32, data []byte) error {
	c, err := t.colvecField(field)
	if err != nil {
		return err
	}
	if size := t.slabSize(c); len(data) != size {
		return fmt.Errorf("%w: slab is %d bytes, field %d wants %d", ErrFieldType, len(data), field, size)
	}
	copy(t.ensureSlab(c, t.block(idx)), data)
	return nil
}

func (t *Type) colvecReset(field int, id ID) error {
	c, err := t.colvecField(field)
	if err != nil {
		return err
	}
	b := t.Block(t.BlockIndex(id))
	if b == nil || b.colvecs[c.pos].IsNil() {
		return nil
	}
	vec := c.pool.Bytes(b.colvecs[c.pos])[t.colvecSlot(c, id):][:c.field.VectorSize()]
	if d := c.field.Default; d != nil {
		copy(vec, d)
	} else {
		clear(vec)
	}
	return nil
}

func (t *Type) freeColvecs(b *Block) {
	for _, c := range t.colvecs {
		if c == nil || b.colvecs[c.pos].IsNil() {
			continue
		}
		c.pool.Put(b.colvecs[c.pos])
		b.colvecs[c.pos] = pool.Ref{}
	}
}
