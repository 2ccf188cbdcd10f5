package sdb

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

// NodeHash is a content hash of one node: its id, every set stored field,
// its alias names and its columnar vectors. Two nodes with equal content
// hash equal regardless of memory layout.
func NodeHash(n *node.Node) uint64 { return nodeHash(n, true) }

// nodeHash leaves columnar vectors out unless withColvec; FormatV1 dumps
// do not carry them.
func nodeHash(n *node.Node, withColvec bool) uint64 {
	d := xxhash.New()
	var buf [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}

	putU64(uint64(n.ID()))
	s := n.Schema()
	t := n.Type()
	for i := range s.Fields {
		f := &s.Fields[i]
		switch f.Type {
		case schema.FieldAlias, schema.FieldAliases:
			for _, name := range t.AliasesOf(i, n.ID()) {
				putU64(uint64(i)<<8 | uint64(f.Type))
				putU64(uint64(len(name)))
				_, _ = d.WriteString(name)
			}
		case schema.FieldColvec:
			if !withColvec {
				continue
			}
			v, err := t.ColvecGet(i, n.ID())
			if err != nil {
				continue
			}
			putU64(uint64(i)<<8 | uint64(f.Type))
			_, _ = d.Write(v)
		default:
			if !n.IsSet(i) {
				continue
			}
			v, err := n.Value(i)
			if err != nil {
				continue
			}
			putU64(uint64(i)<<8 | uint64(f.Type))
			putU64(uint64(len(v)))
			_, _ = d.Write(v)
		}
	}
	return d.Sum64()
}

// BlockHash combines the hashes of the resident nodes of block idx in id
// order. An empty block hashes to the digest of nothing.
func BlockHash(t *node.Type, idx uint32) uint64 { return blockHash(t, idx, FormatCurrent) }

// blockHash hashes the content a dump of the given format version carries.
func blockHash(t *node.Type, idx uint32, version uint32) uint64 {
	d := newBlockDigest()
	if b := t.Block(idx); b != nil {
		for n := range b.Nodes() {
			d.add(nodeHash(n, version >= FormatV2))
		}
	}
	return d.sum()
}

type blockDigest struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newBlockDigest() *blockDigest { return &blockDigest{d: xxhash.New()} }

func (b *blockDigest) add(h uint64) {
	binary.LittleEndian.PutUint64(b.buf[:], h)
	_, _ = b.d.Write(b.buf[:])
}

func (b *blockDigest) sum() uint64 { return b.d.Sum64() }
