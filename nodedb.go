package nodedb

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/nodedb/expire"
	"github.com/hupe1980/nodedb/internal/cache"
	"github.com/hupe1980/nodedb/internal/resource"
	"github.com/hupe1980/nodedb/internal/version"
	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/sdb"
	"github.com/hupe1980/nodedb/schema"
)

type blockKey struct {
	typ schema.TypeID
	idx uint32
}

// DB is an embedded node database: a set of registered node types, a
// registry of pending expirations and the persistence wiring around them.
//
// DB methods serialize on an internal lock. Nodes returned by FindNode and
// UpsertNode belong to the DB; mutate them only from one goroutine at a
// time and not during Checkpoint. A node stays valid until it is deleted
// or its block is evicted.
type DB struct {
	mu sync.Mutex

	id           uuid.UUID
	createdWith  string
	version      uint32 // format version of the last loaded common dump
	commonLoaded bool
	trx          uint64

	types   map[schema.TypeID]*node.Type
	maxSeen map[schema.TypeID]node.ID
	expire  *expire.Registry
	fired   []expire.Token
	errLog  *sdb.ErrLog

	rc  *resource.Controller
	lru *cache.LRU[blockKey, *node.Type]

	opts    options
	logger  *Logger
	metrics MetricsCollector
	closed  bool
}

// New creates an empty database.
func New(optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	d := &DB{
		id:          id,
		createdWith: version.String(),
		version:     sdb.FormatCurrent,
		types:       make(map[schema.TypeID]*node.Type),
		maxSeen:     make(map[schema.TypeID]node.ID),
		errLog:      sdb.NewErrLog(64),
		rc: resource.NewController(resource.Config{
			MemoryBudgetBytes:    o.memoryBudget,
			MaxBackgroundWorkers: o.checkpointWorkers,
			IOLimitBytesPerSec:   o.ioLimit,
		}),
		lru:     cache.NewLRU(cache.Options[blockKey, *node.Type]{}),
		opts:    o,
		logger:  o.logger.WithDB(id.String()),
		metrics: o.metricsCollector,
	}
	d.expire = expire.New(func(tok expire.Token) {
		d.fired = append(d.fired, tok)
	}, nil)
	return d, nil
}

// ID returns the database instance id. LoadCommon replaces it with the id
// recorded in the dump.
func (d *DB) ID() uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// CreatedWith returns the engine version that created the database.
func (d *DB) CreatedWith() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createdWith
}

// Destroy deletes every type with all its nodes, drops pending
// expirations and unmaps all memory. The DB is unusable afterwards.
func (d *DB) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, t := range d.types {
		t.Destroy()
	}
	clear(d.types)
	clear(d.maxSeen)
	d.expire.Reset()
	d.fired = nil
	d.lru.Invalidate(func(blockKey) bool { return true })
	d.closed = true
	d.logger.Info("database destroyed")
}

// NextTrxLabel advances and returns the transaction label used to mark
// visited nodes during a traversal.
func (d *DB) NextTrxLabel() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trx++
	return d.trx
}

// LoadErrors returns the log that collects every dump load error.
func (d *DB) LoadErrors() *sdb.ErrLog { return d.errLog }

// RegisterType compiles raw and registers it as type id. Registering an
// identical schema again returns ErrTypeExists and changes nothing; a
// different schema returns ErrSchemaMismatch. Bidirectional edges are
// linked to every registered endpoint type.
func (d *DB) RegisterType(id schema.TypeID, raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	_, err := d.registerLocked(id, raw)
	return err
}

func (d *DB) registerLocked(id schema.TypeID, raw []byte) (*node.Type, error) {
	ctx := context.Background()
	if t, ok := d.types[id]; ok {
		if t.Schema().Equal(raw) {
			return t, fmt.Errorf("%w: type %d", ErrTypeExists, id)
		}
		err := fmt.Errorf("%w: type %d", ErrSchemaMismatch, id)
		d.logger.LogRegister(ctx, id, 0, err)
		return nil, err
	}

	s, err := schema.Compile(raw)
	if err != nil {
		err = fmt.Errorf("type %d: %w", id, err)
		d.logger.LogRegister(ctx, id, 0, err)
		return nil, err
	}
	// Validate every pairing before linking any.
	ids := d.typeIDs()
	if err := schema.CheckLink(s, id, s, id); err != nil {
		d.logger.LogRegister(ctx, id, 0, err)
		return nil, err
	}
	for _, oid := range ids {
		if err := schema.CheckLink(s, id, d.types[oid].Schema(), oid); err != nil {
			d.logger.LogRegister(ctx, id, 0, err)
			return nil, err
		}
	}
	_ = schema.Link(s, id, s, id)
	for _, oid := range ids {
		_ = schema.Link(s, id, d.types[oid].Schema(), oid)
	}

	t := node.NewType(id, s, node.Options{
		SlabSize:  d.opts.slabSize,
		Advice:    d.opts.poolAdvice,
		HugePages: d.opts.hugePages,
		Memory:    d.rc,
	})
	d.types[id] = t
	d.logger.LogRegister(ctx, id, len(s.Fields), nil)
	return t, nil
}

func (d *DB) typeIDs() []schema.TypeID {
	ids := make([]schema.TypeID, 0, len(d.types))
	for id := range d.types {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Types returns the registered type ids in ascending order.
func (d *DB) Types() []schema.TypeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typeIDs()
}

// Type returns the index of a registered type for traversal, alias and
// columnar access.
func (d *DB) Type(id schema.TypeID) (*node.Type, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typeLocked(id)
}

func (d *DB) typeLocked(id schema.TypeID) (*node.Type, error) {
	if d.closed {
		return nil, ErrClosed
	}
	t, ok := d.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrNotFound, id)
	}
	return t, nil
}

// FindNode returns node id of type typ, loading its block from the store
// if it exists only there. A missing node returns ErrNotFound.
func (d *DB) FindNode(ctx context.Context, typ schema.TypeID, id node.ID) (n *node.Node, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordFind(time.Since(start), err) }()

	d.mu.Lock()
	defer d.mu.Unlock()
	n, err = d.findLocked(ctx, typ, id)
	if err == nil && d.rc.OverBudget() {
		d.evictLocked(ctx, blockKey{typ: typ, idx: n.Type().BlockIndex(id)})
	}
	return n, err
}

func validID(id node.ID) error {
	if id == 0 || id > schema.MaxNodeID {
		return fmt.Errorf("%w: %d", node.ErrInvalidNodeID, id)
	}
	return nil
}

func (d *DB) findLocked(ctx context.Context, typ schema.TypeID, id node.ID) (*node.Node, error) {
	t, err := d.typeLocked(typ)
	if err != nil {
		return nil, err
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	idx := t.BlockIndex(id)
	if err := d.ensureLoaded(ctx, t, idx); err != nil {
		return nil, translateError(err)
	}
	n, _ := t.Find(id)
	if n == nil {
		return nil, fmt.Errorf("%w: type %d node %d", ErrNotFound, typ, id)
	}
	d.touch(t, idx)
	return n, nil
}

// UpsertNode returns node id of type typ, creating it with schema defaults
// if absent. created reports a new node.
func (d *DB) UpsertNode(ctx context.Context, typ schema.TypeID, id node.ID) (n *node.Node, created bool, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordUpsert(time.Since(start), err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.typeLocked(typ)
	if err != nil {
		return nil, false, err
	}
	if err := validID(id); err != nil {
		return nil, false, err
	}
	idx := t.BlockIndex(id)
	if err := d.ensureLoaded(ctx, t, idx); err != nil {
		return nil, false, translateError(err)
	}
	n, created, err = t.Upsert(id)
	if err != nil {
		return nil, false, err
	}
	if id > d.maxSeen[typ] {
		d.maxSeen[typ] = id
	}
	d.touch(t, idx)
	if d.rc.OverBudget() {
		d.evictLocked(ctx, blockKey{typ: typ, idx: idx})
	}
	return n, created, nil
}

// DeleteNode deletes node id of type typ. Inverse edges pointing at it
// and its pending expirations are removed.
func (d *DB) DeleteNode(ctx context.Context, typ schema.TypeID, id node.ID) (err error) {
	start := time.Now()
	defer func() { d.metrics.RecordDelete(time.Since(start), err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.findLocked(ctx, typ, id)
	if err != nil {
		return err
	}
	if err := d.unlinkAll(ctx, n); err != nil {
		return err
	}
	n.Type().Delete(n)
	d.expire.Remove(func(tok expire.Token) bool { return tok.Type == typ && tok.Node == id })
	return nil
}

// Stats describe a database.
type Stats struct {
	Types              int
	Nodes              uint64
	Resident           uint64
	Blocks             int
	InMemory           int
	OnDisk             int
	Dirty              int
	MappedBytes        int64
	MemoryUsage        int64
	PendingExpirations int
	TrxLabel           uint64
}

// Stats returns counters summed over all types.
func (d *DB) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{
		Types:              len(d.types),
		MemoryUsage:        d.rc.MemoryUsage(),
		PendingExpirations: d.expire.Count(),
		TrxLabel:           d.trx,
	}
	for _, t := range d.types {
		ts := t.Stats()
		s.Nodes += ts.Nodes
		s.Resident += ts.Resident
		s.Blocks += ts.Blocks
		s.InMemory += ts.InMemory
		s.OnDisk += ts.OnDisk
		s.Dirty += ts.Dirty
		s.MappedBytes += ts.MappedBytes
	}
	return s
}
