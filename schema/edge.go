package schema

import "fmt"

// Link connects the bidirectional edges between type a (id aID) and type
// b (id bID) so each endpoint's constraint points at the other. a and b may
// be the same schema. It fails if an edge names an inverse field that does
// not point back, and then leaves both schemas untouched.
func Link(a *Schema, aID TypeID, b *Schema, bID TypeID) error {
	if err := CheckLink(a, aID, b, bID); err != nil {
		return err
	}
	link(a, bID, b)
	if a != b {
		link(b, aID, a)
	}
	return nil
}

// CheckLink reports the error Link would return without connecting anything.
func CheckLink(a *Schema, aID TypeID, b *Schema, bID TypeID) error {
	if err := checkLink(a, aID, b, bID); err != nil {
		return err
	}
	if a != b {
		return checkLink(b, bID, a, aID)
	}
	return nil
}

func checkLink(a *Schema, aID TypeID, b *Schema, bID TypeID) error {
	for _, i := range a.edgeFields {
		e := a.Fields[i].Edge
		if !e.Bidirectional() || e.DstType != bID {
			continue
		}
		inv := b.Field(int(e.InverseField))
		if inv == nil || inv.Edge == nil || !inv.Edge.Bidirectional() ||
			inv.Edge.DstType != aID || int(inv.Edge.InverseField) != i {
			return fmt.Errorf("%w: type %d field %d -> type %d field %d", ErrEdgeMismatch, aID, i, bID, e.InverseField)
		}
	}
	return nil
}

func link(a *Schema, bID TypeID, b *Schema) {
	for _, i := range a.edgeFields {
		e := a.Fields[i].Edge
		if !e.Bidirectional() || e.DstType != bID {
			continue
		}
		inv := b.Field(int(e.InverseField)).Edge
		e.Inverse = inv
		inv.Inverse = e
	}
}
