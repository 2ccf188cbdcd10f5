package nodedb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/nodedb/blobstore"
	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
	"github.com/hupe1980/nodedb/sdb"
)

// ensureLoaded fetches block idx from the store if it exists only there.
func (d *DB) ensureLoaded(ctx context.Context, t *node.Type, idx uint32) error {
	if !t.BlockStatus(idx).NeedsLoad() {
		return nil
	}
	if d.opts.store == nil {
		return fmt.Errorf("%w: type %d block %d", node.ErrBlockNotLoaded, t.ID(), idx)
	}
	name := blobstore.BlockName(uint16(t.ID()), idx)
	data, err := blobstore.ReadAll(ctx, d.opts.store, name)
	if err != nil {
		d.metrics.RecordLoad(DumpBlock, 0, 0, err)
		d.logger.WithBlock(t.ID(), idx).LogLoad(ctx, name, 0, err)
		return fmt.Errorf("type %d block %d: %w", t.ID(), idx, err)
	}
	if err := d.rc.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	_, err = d.loadBlockLocked(ctx, sdb.NewMemCarrierBytes(data), t, idx, name)
	return err
}

type dumpJob struct {
	t    *node.Type
	idx  uint32
	name string
	info sdb.BlockInfo
	size int
	done bool
}

// Checkpoint writes every dirty resident block to the store, then the
// common dump. Blocks are serialized and uploaded concurrently by up to
// WithCheckpointWorkers workers, throttled by WithIOLimit. Blocks that
// were written are marked saved even if others failed; the common dump is
// only written when all blocks succeeded.
func (d *DB) Checkpoint(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.opts.store == nil {
		return ErrNoStore
	}

	var jobs []*dumpJob
	for _, id := range d.typeIDs() {
		t := d.types[id]
		for b := range t.Blocks() {
			if st := b.Status(); st.Dirty() && st.InMemory() {
				jobs = append(jobs, &dumpJob{t: t, idx: b.Index(), name: blobstore.BlockName(uint16(id), b.Index())})
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if err := d.rc.AcquireBackground(gctx); err != nil {
			break
		}
		g.Go(func() error {
			defer d.rc.ReleaseBackground()
			return d.writeBlockDump(gctx, job)
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	written := 0
	var bytes int64
	for _, job := range jobs {
		if job.done {
			job.t.MarkSaved(job.idx, job.info.Hash)
			written++
			bytes += int64(job.size)
		}
	}
	if err != nil {
		d.logger.LogCheckpoint(ctx, written, bytes, err)
		return err
	}

	c := sdb.NewMemCarrier()
	if err := d.saveCommonLocked(ctx, c, blobstore.CommonName); err != nil {
		d.logger.LogCheckpoint(ctx, written, bytes, err)
		return err
	}
	if err := d.put(ctx, blobstore.CommonName, c.Bytes()); err != nil {
		d.logger.LogCheckpoint(ctx, written, bytes, err)
		return err
	}
	bytes += int64(c.Len())
	d.logger.LogCheckpoint(ctx, written, bytes, nil)
	return nil
}

// writeBlockDump serializes one block and uploads it. It reads the block
// only, so jobs for distinct blocks run concurrently.
func (d *DB) writeBlockDump(ctx context.Context, job *dumpJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	c := sdb.NewMemCarrier()
	info, err := sdb.SaveBlock(c, job.t, job.idx, d.id, d.writerOptions())
	if err == nil {
		err = d.put(ctx, job.name, c.Bytes())
	}
	d.metrics.RecordSave(DumpBlock, c.Len(), time.Since(start), err)
	d.logger.WithBlock(job.t.ID(), job.idx).LogSave(ctx, job.name, c.Len(), err)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", job.name, err)
	}
	job.info, job.size, job.done = info, c.Len(), true
	return nil
}

func (d *DB) put(ctx context.Context, name string, data []byte) error {
	if err := d.rc.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	return d.opts.store.Put(ctx, name, data)
}

// Restore reads the common dump from the store. Blocks are loaded on
// first access. A store without a common dump returns ErrNotFound.
func (d *DB) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.opts.store == nil {
		return ErrNoStore
	}
	data, err := blobstore.ReadAll(ctx, d.opts.store, blobstore.CommonName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, blobstore.CommonName)
		}
		return err
	}
	if err := d.rc.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	return d.loadCommonLocked(ctx, sdb.NewMemCarrierBytes(data), blobstore.CommonName)
}

// Preload loads every block of type typ that exists only in the store.
func (d *DB) Preload(ctx context.Context, typ schema.TypeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.typeLocked(typ)
	if err != nil {
		return err
	}
	var idxs []uint32
	for b := range t.Blocks() {
		if b.Status().NeedsLoad() {
			idxs = append(idxs, b.Index())
		}
	}
	for _, idx := range idxs {
		if err := d.ensureLoaded(ctx, t, idx); err != nil {
			return err
		}
	}
	return nil
}
