package nodedb

import (
	"context"
	"errors"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

func edgeOf(n *node.Node, field int, want schema.FieldType) (*schema.EdgeConstraint, error) {
	f := n.Schema().Field(field)
	if f == nil || f.Type != want || f.Edge == nil {
		return nil, &ErrNotEdge{Type: n.TypeID(), Field: field}
	}
	return f.Edge, nil
}

// SetReference points the single reference field of node id at dst (0
// clears it). For bidirectional edges the inverse field on the old and new
// destination is kept in step; a single inverse reference that pointed
// elsewhere moves, clearing the forward edge of its previous source.
func (d *DB) SetReference(ctx context.Context, typ schema.TypeID, id node.ID, field int, dst node.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.findLocked(ctx, typ, id)
	if err != nil {
		return err
	}
	e, err := edgeOf(n, field, schema.FieldReference)
	if err != nil {
		return err
	}
	if e.Bidirectional() && dst != 0 {
		if _, err := d.findLocked(ctx, e.DstType, dst); err != nil {
			return err
		}
	}
	prev, err := n.SetReference(field, dst)
	if err != nil || !e.Bidirectional() || prev == dst {
		return err
	}
	if prev != 0 {
		if err := d.unlinkInverse(ctx, e, prev, id); err != nil {
			return err
		}
	}
	if dst != 0 {
		return d.linkInverse(ctx, typ, field, e, dst, id)
	}
	return nil
}

// AddReference adds dst to the references field of node id and reports
// whether it was added. Bidirectional edges gain the inverse on dst.
func (d *DB) AddReference(ctx context.Context, typ schema.TypeID, id node.ID, field int, dst node.ID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.findLocked(ctx, typ, id)
	if err != nil {
		return false, err
	}
	e, err := edgeOf(n, field, schema.FieldReferences)
	if err != nil {
		return false, err
	}
	if e.Bidirectional() {
		if _, err := d.findLocked(ctx, e.DstType, dst); err != nil {
			return false, err
		}
	}
	added, err := n.AddReference(field, dst)
	if err != nil || !added || !e.Bidirectional() {
		return added, err
	}
	return true, d.linkInverse(ctx, typ, field, e, dst, id)
}

// RemoveReference removes one occurrence of dst from the references field
// of node id and reports whether it was present.
func (d *DB) RemoveReference(ctx context.Context, typ schema.TypeID, id node.ID, field int, dst node.ID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.findLocked(ctx, typ, id)
	if err != nil {
		return false, err
	}
	e, err := edgeOf(n, field, schema.FieldReferences)
	if err != nil {
		return false, err
	}
	removed, err := n.RemoveReference(field, dst)
	if err != nil || !removed || !e.Bidirectional() {
		return removed, err
	}
	return true, d.unlinkInverse(ctx, e, dst, id)
}

// linkInverse records src on the inverse field of node dst. srcType and
// srcField name the forward edge, used to detach a displaced source.
func (d *DB) linkInverse(ctx context.Context, srcType schema.TypeID, srcField int, e *schema.EdgeConstraint, dst, src node.ID) error {
	dn, err := d.findLocked(ctx, e.DstType, dst)
	if err != nil {
		return err
	}
	inv := int(e.InverseField)
	if dn.Schema().Field(inv).Type == schema.FieldReferences {
		_, err := dn.AddReference(inv, src)
		return err
	}
	old, err := dn.SetReference(inv, src)
	if err != nil || old == 0 || old == src {
		return err
	}
	return d.dropForward(ctx, srcType, old, srcField, dst)
}

// unlinkInverse removes src from the inverse field of node dst. A missing
// dst is not an error.
func (d *DB) unlinkInverse(ctx context.Context, e *schema.EdgeConstraint, dst, src node.ID) error {
	dn, err := d.findLocked(ctx, e.DstType, dst)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return dropEdge(dn, int(e.InverseField), src)
}

// dropForward removes dst from the forward field of node id.
func (d *DB) dropForward(ctx context.Context, typ schema.TypeID, id node.ID, field int, dst node.ID) error {
	n, err := d.findLocked(ctx, typ, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return dropEdge(n, field, dst)
}

func dropEdge(n *node.Node, field int, dst node.ID) error {
	if n.Schema().Field(field).Type == schema.FieldReferences {
		_, err := n.RemoveReference(field, dst)
		return err
	}
	cur, err := n.Reference(field)
	if err != nil || cur != dst {
		return err
	}
	_, err = n.SetReference(field, 0)
	return err
}

// unlinkAll removes the inverse side of every bidirectional edge of n.
func (d *DB) unlinkAll(ctx context.Context, n *node.Node) error {
	s := n.Schema()
	for _, i := range s.EdgeFields() {
		e := s.Fields[i].Edge
		if !e.Bidirectional() {
			continue
		}
		var dsts []node.ID
		if s.Fields[i].Type == schema.FieldReferences {
			dsts, _ = n.References(i)
		} else if ref, _ := n.Reference(i); ref != 0 {
			dsts = []node.ID{ref}
		}
		for _, dst := range dsts {
			if dst == n.ID() && e.DstType == n.TypeID() {
				continue
			}
			if err := d.unlinkInverse(ctx, e, dst, n.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}
