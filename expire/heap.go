package expire

import "container/heap"

// Compile time check to ensure chainHeap satisfies the heap interface.
var _ heap.Interface = (*chainHeap)(nil)

// chain holds every token sharing one expiry timestamp, in insertion order.
type chain struct {
	at     int64
	tokens []Token
	index  int // maintained by the heap.Interface methods
}

// chainHeap is a min-heap of chains ordered by timestamp.
type chainHeap []*chain

func (h chainHeap) Len() int { return len(h) }

func (h chainHeap) Less(i, j int) bool { return h[i].at < h[j].at }

func (h chainHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *chainHeap) Push(x any) {
	c, _ := x.(*chain)
	c.index = len(*h)
	*h = append(*h, c)
}

func (h *chainHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil // Avoid memory leak
	c.index = -1   // For safety
	*h = old[:n-1]
	return c
}
