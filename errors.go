package nodedb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/nodedb/blobstore"
	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

var (
	// ErrNotFound is returned for a missing type or node.
	ErrNotFound = errors.New("not found")
	// ErrTypeExists is returned when a type is registered again with the
	// same schema. The registration is a no-op.
	ErrTypeExists = errors.New("type already registered")
	// ErrSchemaMismatch is returned when a type id is registered with a
	// different schema, or a dump names a schema that differs from the
	// registered one.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrNoStore is returned by store-backed operations on a DB without a store.
	ErrNoStore = errors.New("no store configured")
	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New("database destroyed")
)

// ErrNotEdge reports a reference operation on a field that is not a reference.
type ErrNotEdge struct {
	Type  schema.TypeID
	Field int
}

func (e *ErrNotEdge) Error() string {
	return fmt.Sprintf("type %d field %d is not a reference field", e.Type, e.Field)
}

func (e *ErrNotEdge) Unwrap() error { return node.ErrFieldType }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}

	// Not found unification.
	if errors.Is(err, node.ErrNodeNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
