package nodedb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
	"github.com/hupe1980/nodedb/sdb"
)

func (d *DB) writerOptions() sdb.WriterOptions {
	return sdb.WriterOptions{
		Compression: d.opts.compression,
		CreatedWith: d.createdWith,
	}
}

func (d *DB) commonLocked() *sdb.Common {
	cm := &sdb.Common{
		DBID:     d.id,
		TrxLabel: d.trx,
		Expire:   d.expire.Tokens(),
	}
	for _, id := range d.typeIDs() {
		cm.Types = append(cm.Types, sdb.DescribeType(d.types[id], d.maxSeen[id]))
	}
	return cm
}

// SaveCommon writes the common dump (identity, schemas, pending
// expirations, id tables) to c. Blocks are described by their last save.
func (d *DB) SaveCommon(c sdb.Carrier) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.saveCommonLocked(context.Background(), c, "carrier")
}

func (d *DB) saveCommonLocked(ctx context.Context, c sdb.Carrier, name string) error {
	start := time.Now()
	pos := c.Tell()
	err := sdb.SaveCommon(c, d.commonLocked(), d.writerOptions())
	size := int(c.Tell() - pos)
	d.metrics.RecordSave(DumpCommon, size, time.Since(start), err)
	d.logger.LogSave(ctx, name, size, err)
	return err
}

// SaveBlock writes block idx of type typ to c and marks it saved. A failed
// save leaves whatever was written in c and the block dirty.
func (d *DB) SaveBlock(c sdb.Carrier, typ schema.TypeID, idx uint32) (sdb.BlockInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.typeLocked(typ)
	if err != nil {
		return sdb.BlockInfo{Index: idx}, err
	}
	info, err := d.saveBlockLocked(context.Background(), c, t, idx, "carrier")
	if err != nil {
		return info, err
	}
	t.MarkSaved(idx, info.Hash)
	return info, nil
}

func (d *DB) saveBlockLocked(ctx context.Context, c sdb.Carrier, t *node.Type, idx uint32, name string) (sdb.BlockInfo, error) {
	start := time.Now()
	pos := c.Tell()
	info, err := sdb.SaveBlock(c, t, idx, d.id, d.writerOptions())
	size := int(c.Tell() - pos)
	d.metrics.RecordSave(DumpBlock, size, time.Since(start), err)
	d.logger.WithBlock(t.ID(), idx).LogSave(ctx, name, size, err)
	return info, err
}

// LoadCommon reads a common dump from c. Types it names are registered
// (an existing type must have the identical schema), their blocks are
// marked on disk and pending expirations replace the current ones. The
// database takes over the dump's id and transaction label.
func (d *DB) LoadCommon(c sdb.Carrier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.loadCommonLocked(context.Background(), c, "carrier")
}

func (d *DB) loadCommonLocked(ctx context.Context, c sdb.Carrier, name string) error {
	start := time.Now()
	pos := c.Tell()
	cm, err := sdb.LoadCommon(c)
	size := int(c.Tell() - pos)
	if err == nil {
		err = d.applyCommon(cm)
	} else {
		d.errLog.Add(err)
	}
	d.metrics.RecordLoad(DumpCommon, size, time.Since(start), err)
	d.logger.LogLoad(ctx, name, 0, err)
	return err
}

func (d *DB) applyCommon(cm *sdb.Common) error {
	for i := range cm.Types {
		ct := &cm.Types[i]
		if t, ok := d.types[ct.ID]; ok && !t.Schema().Equal(ct.Schema) {
			return fmt.Errorf("%w: type %d differs from the dump", ErrSchemaMismatch, ct.ID)
		}
	}
	for i := range cm.Types {
		ct := &cm.Types[i]
		t, err := d.registerLocked(ct.ID, ct.Schema)
		if err != nil && !errors.Is(err, ErrTypeExists) {
			return err
		}
		ct.Apply(t)
		if ct.MaxID > d.maxSeen[ct.ID] {
			d.maxSeen[ct.ID] = ct.MaxID
		}
	}

	d.id = cm.DBID
	d.trx = max(d.trx, cm.TrxLabel)
	d.version = cm.Header.Version
	if cm.Header.CreatedWith != "" {
		d.createdWith = cm.Header.CreatedWith
	}
	d.commonLoaded = true
	d.logger = d.opts.logger.WithDB(d.id.String())

	d.expire.Reset()
	for _, tok := range cm.Expire {
		d.expire.Insert(tok)
	}
	return nil
}

// LoadBlock reads a block dump from c into block idx of type typ. A
// resident block must be clean; it is replaced. After LoadCommon the dump
// must belong to this database and must not be newer than the common
// dump. On failure the block gets back the status it had before the load
// and the error, a *sdb.LoadError, is also added to LoadErrors.
func (d *DB) LoadBlock(c sdb.Carrier, typ schema.TypeID, idx uint32) (sdb.BlockInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.typeLocked(typ)
	if err != nil {
		return sdb.BlockInfo{Index: idx}, err
	}
	return d.loadBlockLocked(context.Background(), c, t, idx, "carrier")
}

func (d *DB) loadBlockLocked(ctx context.Context, c sdb.Carrier, t *node.Type, idx uint32, name string) (sdb.BlockInfo, error) {
	start := time.Now()
	pos := c.Tell()
	opts := sdb.LoadOptions{MaxVersion: d.version, Log: d.errLog}
	if d.commonLoaded {
		opts.DBID = d.id
	}
	info, err := sdb.LoadBlock(c, t, idx, opts)
	size := int(c.Tell() - pos)
	d.metrics.RecordLoad(DumpBlock, size, time.Since(start), err)
	d.logger.WithBlock(t.ID(), idx).LogLoad(ctx, name, info.Count, err)
	if err != nil {
		return info, err
	}
	for n := range t.Block(idx).Nodes() {
		if n.ID() > d.maxSeen[t.ID()] {
			d.maxSeen[t.ID()] = n.ID()
		}
	}
	d.touch(t, idx)
	return info, nil
}

// SaveCommonFile writes the common dump to path.
func (d *DB) SaveCommonFile(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	c, err := sdb.CreateFile(d.opts.fsys, path)
	if err != nil {
		return err
	}
	err = d.saveCommonLocked(context.Background(), c, path)
	return errors.Join(err, c.Close())
}

// SaveBlockFile writes block idx of type typ to path. A failed save leaves
// the partial file in place.
func (d *DB) SaveBlockFile(path string, typ schema.TypeID, idx uint32) (sdb.BlockInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.typeLocked(typ)
	if err != nil {
		return sdb.BlockInfo{Index: idx}, err
	}
	c, err := sdb.CreateFile(d.opts.fsys, path)
	if err != nil {
		return sdb.BlockInfo{Index: idx}, err
	}
	info, err := d.saveBlockLocked(context.Background(), c, t, idx, path)
	if err = errors.Join(err, c.Close()); err != nil {
		return info, err
	}
	t.MarkSaved(idx, info.Hash)
	return info, nil
}

// LoadCommonFile reads the common dump at path.
func (d *DB) LoadCommonFile(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	c, err := sdb.OpenFile(d.opts.fsys, path)
	if err != nil {
		return translateError(err)
	}
	defer func() { _ = c.Close() }()
	return d.loadCommonLocked(context.Background(), c, path)
}

// LoadBlockFile reads the block dump at path into block idx of type typ.
func (d *DB) LoadBlockFile(path string, typ schema.TypeID, idx uint32) (sdb.BlockInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.typeLocked(typ)
	if err != nil {
		return sdb.BlockInfo{Index: idx}, err
	}
	c, err := sdb.OpenFile(d.opts.fsys, path)
	if err != nil {
		return sdb.BlockInfo{Index: idx}, translateError(err)
	}
	defer func() { _ = c.Close() }()
	return d.loadBlockLocked(context.Background(), c, t, idx, path)
}

// QuickVerify checks the trailing hash of the dump at path without
// parsing its body.
func QuickVerify(path string) (sdb.Header, error) {
	return sdb.QuickVerifyFile(path)
}
