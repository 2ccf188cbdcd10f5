// Package expire implements the expiration registry: tokens naming a node
// and an absolute expiry time, fired in timestamp order.
package expire

import (
	"container/heap"
	"slices"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

// Token schedules the expiry of one node at an absolute unix time in seconds.
type Token struct {
	Type schema.TypeID
	Node node.ID
	At   int64
}

// Func receives a fired or cancelled token.
type Func func(Token)

// Registry orders tokens by expiry. Tokens with equal timestamps share a
// chain and fire in insertion order. A Registry is not safe for concurrent use.
type Registry struct {
	heap   chainHeap
	byTime map[int64]*chain
	count  int

	onExpire Func
	onCancel Func
}

// New creates an empty registry. Either callback may be nil.
func New(onExpire, onCancel Func) *Registry {
	return &Registry{
		byTime:   make(map[int64]*chain),
		onExpire: onExpire,
		onCancel: onCancel,
	}
}

// Insert schedules tok.
func (r *Registry) Insert(tok Token) {
	if c, ok := r.byTime[tok.At]; ok {
		c.tokens = append(c.tokens, tok)
	} else {
		c = &chain{at: tok.At, tokens: []Token{tok}}
		r.byTime[tok.At] = c
		heap.Push(&r.heap, c)
	}
	r.count++
}

// Tick fires every token with At <= now and returns how many fired.
// Callbacks may insert new tokens; those due at or before now fire in the
// same tick.
func (r *Registry) Tick(now int64) int {
	fired := 0
	for len(r.heap) > 0 && r.heap[0].at <= now {
		c, _ := heap.Pop(&r.heap).(*chain)
		delete(r.byTime, c.at)
		r.count -= len(c.tokens)
		for _, tok := range c.tokens {
			fired++
			if r.onExpire != nil {
				r.onExpire(tok)
			}
		}
	}
	return fired
}

// Remove cancels every token matching pred and returns how many were removed.
func (r *Registry) Remove(pred func(Token) bool) int {
	return r.remove(pred, -1)
}

// RemoveOne cancels the earliest token matching pred.
func (r *Registry) RemoveOne(pred func(Token) bool) bool {
	return r.remove(pred, 1) == 1
}

func (r *Registry) remove(pred func(Token) bool, limit int) int {
	var chains []*chain
	if limit > 0 {
		// Earliest first so a limited removal takes the oldest match.
		chains = slices.Clone(r.heap)
		slices.SortFunc(chains, func(a, b *chain) int { return compareInt64(a.at, b.at) })
	} else {
		chains = r.heap
	}

	removed := 0
	var cancelled []Token
	var empty []*chain
	for _, c := range chains {
		kept := c.tokens[:0]
		for _, tok := range c.tokens {
			if (limit < 0 || removed < limit) && pred(tok) {
				removed++
				cancelled = append(cancelled, tok)
				continue
			}
			kept = append(kept, tok)
		}
		clear(c.tokens[len(kept):])
		c.tokens = kept
		if len(kept) == 0 {
			empty = append(empty, c)
		}
		if limit > 0 && removed >= limit {
			break
		}
	}
	for _, c := range empty {
		heap.Remove(&r.heap, c.index)
		delete(r.byTime, c.at)
	}
	r.count -= removed

	if r.onCancel != nil {
		for _, tok := range cancelled {
			r.onCancel(tok)
		}
	}
	return removed
}

// Count returns the number of pending tokens.
func (r *Registry) Count() int { return r.count }

// Next returns the earliest pending expiry.
func (r *Registry) Next() (int64, bool) {
	if len(r.heap) == 0 {
		return 0, false
	}
	return r.heap[0].at, true
}

// Tokens returns every pending token ordered by expiry, ties in insertion order.
func (r *Registry) Tokens() []Token {
	chains := slices.Clone(r.heap)
	slices.SortFunc(chains, func(a, b *chain) int { return compareInt64(a.at, b.at) })
	out := make([]Token, 0, r.count)
	for _, c := range chains {
		out = append(out, c.tokens...)
	}
	return out
}

// Find returns the pending tokens for one node.
func (r *Registry) Find(typ schema.TypeID, id node.ID) []Token {
	var out []Token
	for _, tok := range r.Tokens() {
		if tok.Type == typ && tok.Node == id {
			out = append(out, tok)
		}
	}
	return out
}

// Reset drops all tokens without firing callbacks.
func (r *Registry) Reset() {
	r.heap = nil
	clear(r.byTime)
	r.count = 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
