package node

import (
	"fmt"
	"slices"
)

// MaxAliasLen is the longest alias name.
const MaxAliasLen = 1<<16 - 1

// AliasIndex maps alias names of one field to destination nodes and back.
type AliasIndex struct {
	multi  bool
	byName map[string]ID
	byDest map[ID][]string // sorted
}

func newAliasIndex(multi bool) *AliasIndex {
	return &AliasIndex{
		multi:  multi,
		byName: make(map[string]ID),
		byDest: make(map[ID][]string),
	}
}

// Len returns the number of names.
func (a *AliasIndex) Len() int { return len(a.byName) }

func (a *AliasIndex) set(name string, dest ID) error {
	if cur, ok := a.byName[name]; ok {
		if cur == dest {
			return nil
		}
		return fmt.Errorf("%w: %q points at node %d", ErrAliasTaken, name, cur)
	}
	if !a.multi {
		a.delDest(dest)
	}
	a.byName[name] = dest
	names := a.byDest[dest]
	i, _ := slices.BinarySearch(names, name)
	a.byDest[dest] = slices.Insert(names, i, name)
	return nil
}

func (a *AliasIndex) del(name string) (ID, bool) {
	dest, ok := a.byName[name]
	if !ok {
		return 0, false
	}
	delete(a.byName, name)
	names := a.byDest[dest]
	if i, found := slices.BinarySearch(names, name); found {
		names = slices.Delete(names, i, i+1)
	}
	if len(names) == 0 {
		delete(a.byDest, dest)
	} else {
		a.byDest[dest] = names
	}
	return dest, true
}

func (a *AliasIndex) delDest(dest ID) int {
	names := a.byDest[dest]
	for _, name := range names {
		delete(a.byName, name)
	}
	delete(a.byDest, dest)
	return len(names)
}

func (a *AliasIndex) reset() {
	clear(a.byName)
	clear(a.byDest)
}

func (t *Type) aliasIndex(field int) (*AliasIndex, error) {
	f := t.schema.Field(field)
	if f == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoField, field)
	}
	a := t.aliases[field]
	if a == nil {
		return nil, fmt.Errorf("%w: field %d is %s", ErrFieldType, field, f.Type)
	}
	return a, nil
}

// SetAlias binds name to the resident node dest on an alias field. A
// single-alias field drops the node's previous name.
func (t *Type) SetAlias(field int, name string, dest ID) error {
	a, err := t.aliasIndex(field)
	if err != nil {
		return err
	}
	if name == "" || len(name) > MaxAliasLen {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAlias, len(name))
	}
	n, st := t.Find(dest)
	if n == nil {
		if st.NeedsLoad() {
			return fmt.Errorf("%w: type %d block %d", ErrBlockNotLoaded, t.id, t.BlockIndex(dest))
		}
		return fmt.Errorf("%w: type %d node %d", ErrNodeNotFound, t.id, dest)
	}
	if err := a.set(name, dest); err != nil {
		return err
	}
	n.dirty()
	return nil
}

// DelAlias removes name and reports whether it existed.
func (t *Type) DelAlias(field int, name string) (bool, error) {
	a, err := t.aliasIndex(field)
	if err != nil {
		return false, err
	}
	dest, ok := a.del(name)
	if ok {
		if b := t.Block(t.BlockIndex(dest)); b != nil {
			b.setFlags(StatusDirty)
		}
	}
	return ok, nil
}

// ResolveAlias returns the node id name points at.
func (t *Type) ResolveAlias(field int, name string) (ID, bool) {
	a, err := t.aliasIndex(field)
	if err != nil {
		return 0, false
	}
	id, ok := a.byName[name]
	return id, ok
}

// ResolveAnyAlias searches every alias field in schema order.
func (t *Type) ResolveAnyAlias(name string) (ID, bool) {
	for _, i := range t.schema.AliasFields() {
		if id, ok := t.aliases[i].byName[name]; ok {
			return id, true
		}
	}
	return 0, false
}

// AliasesOf returns the sorted names bound to id on an alias field.
func (t *Type) AliasesOf(field int, id ID) []string {
	a, err := t.aliasIndex(field)
	if err != nil {
		return nil
	}
	return slices.Clone(a.byDest[id])
}

// AliasCount returns the number of names on an alias field.
func (t *Type) AliasCount(field int) int {
	a, err := t.aliasIndex(field)
	if err != nil {
		return 0
	}
	return a.Len()
}
