package nodedb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/nodedb/expire"
	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

// ExpirePolicy decides what happens to pending expirations of a node when
// a new one is scheduled.
type ExpirePolicy int

const (
	// ExpireIgnoreDuplicate keeps existing expirations and skips the new
	// one if the node already expires at the same time.
	ExpireIgnoreDuplicate ExpirePolicy = iota
	// ExpireCancelExisting cancels every pending expiration of the node.
	ExpireCancelExisting
	// ExpireCancelOne cancels only the earliest pending expiration of the node.
	ExpireCancelOne
)

// ExpireNode schedules node id of type typ to be deleted at the given time.
// The node does not need to be resident.
func (d *DB) ExpireNode(typ schema.TypeID, id node.ID, at time.Time, policy ExpirePolicy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.typeLocked(typ); err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}

	tok := expire.Token{Type: typ, Node: id, At: at.Unix()}
	same := func(t expire.Token) bool { return t.Type == typ && t.Node == id }
	switch policy {
	case ExpireIgnoreDuplicate:
		for _, t := range d.expire.Find(typ, id) {
			if t.At == tok.At {
				return nil
			}
		}
	case ExpireCancelExisting:
		d.expire.Remove(same)
	case ExpireCancelOne:
		d.expire.RemoveOne(same)
	default:
		return fmt.Errorf("unknown expire policy %d", policy)
	}
	d.expire.Insert(tok)
	return nil
}

// CancelExpire cancels every pending expiration of a node and returns how
// many were cancelled.
func (d *DB) CancelExpire(typ schema.TypeID, id node.ID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expire.Remove(func(t expire.Token) bool { return t.Type == typ && t.Node == id })
}

// PendingExpirations returns the pending expirations of a node.
func (d *DB) PendingExpirations(typ schema.TypeID, id node.ID) []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	toks := d.expire.Find(typ, id)
	out := make([]time.Time, len(toks))
	for i, t := range toks {
		out[i] = time.Unix(t.At, 0)
	}
	return out
}

// TickExpirations fires every expiration due at the current clock time and
// deletes the nodes. Nodes already gone are skipped; nodes that cannot be
// reached stay pending. It returns the number of expirations fired.
func (d *DB) TickExpirations(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	now := d.opts.clock().Unix()
	fired := d.expire.Tick(now)
	due := d.fired
	d.fired = nil

	var errs []error
	for _, tok := range due {
		if err := d.expireOne(ctx, tok); err != nil {
			errs = append(errs, err)
		}
	}
	d.metrics.RecordExpire(fired, d.expire.Count())
	d.logger.LogExpire(ctx, now, fired, d.expire.Count())
	return fired, errors.Join(errs...)
}

// expireOne deletes the node named by tok. A node that cannot be reached
// keeps its token so a later tick retries it.
func (d *DB) expireOne(ctx context.Context, tok expire.Token) error {
	n, err := d.findLocked(ctx, tok.Type, tok.Node)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		d.expire.Insert(tok)
		return fmt.Errorf("expire type %d node %d: %w", tok.Type, tok.Node, err)
	}
	if err := d.unlinkAll(ctx, n); err != nil {
		d.expire.Insert(tok)
		return err
	}
	n.Type().Delete(n)
	d.expire.Remove(func(t expire.Token) bool { return t.Type == tok.Type && t.Node == tok.Node })
	return nil
}
