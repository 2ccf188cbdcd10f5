package expire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/nodedb/node"
)

func TestRegistry_Tick(t *testing.T) {
	var fired []Token
	r := New(func(tok Token) { fired = append(fired, tok) }, nil)

	expiries := []int64{2, 4, 4, 4, 4, 4, 4, 7, 7}
	for i, at := range expiries {
		r.Insert(Token{Type: 1, Node: node.ID(i + 1), At: at})
	}
	require.Equal(t, len(expiries), r.Count())

	next, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, int64(2), next)

	firedAt := make(map[node.ID]int64)
	for now := int64(0); now <= 8; now++ {
		before := len(fired)
		r.Tick(now)
		for _, tok := range fired[before:] {
			assert.LessOrEqual(t, tok.At, now, "token %d fired early", tok.Node)
			firedAt[tok.Node] = now
		}

		pending := 0
		for _, at := range expiries {
			if at > now {
				pending++
			}
		}
		assert.Equal(t, pending, r.Count(), "now=%d", now)
	}

	require.Len(t, fired, len(expiries))
	for i, at := range expiries {
		assert.Equal(t, at, firedAt[node.ID(i+1)])
	}
	// Same-timestamp tokens fire in insertion order.
	assert.Equal(t, []node.ID{2, 3, 4, 5, 6, 7}, []node.ID{fired[1].Node, fired[2].Node, fired[3].Node, fired[4].Node, fired[5].Node, fired[6].Node})

	_, ok = r.Next()
	assert.False(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	var cancelled []Token
	r := New(nil, func(tok Token) { cancelled = append(cancelled, tok) })

	r.Insert(Token{Type: 1, Node: 1, At: 10})
	r.Insert(Token{Type: 1, Node: 1, At: 5})
	r.Insert(Token{Type: 1, Node: 2, At: 5})
	r.Insert(Token{Type: 2, Node: 1, At: 20})

	ok := r.RemoveOne(func(tok Token) bool { return tok.Type == 1 && tok.Node == 1 })
	assert.True(t, ok)
	require.Len(t, cancelled, 1)
	assert.Equal(t, int64(5), cancelled[0].At)
	assert.Equal(t, 3, r.Count())

	n := r.Remove(func(tok Token) bool { return tok.Type == 1 })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []Token{{Type: 2, Node: 1, At: 20}}, r.Tokens())

	next, _ := r.Next()
	assert.Equal(t, int64(20), next)
	assert.Equal(t, 0, r.Remove(func(Token) bool { return false }))
}

func TestRegistry_TokensAndFind(t *testing.T) {
	r := New(nil, nil)
	r.Insert(Token{Type: 1, Node: 3, At: 9})
	r.Insert(Token{Type: 1, Node: 1, At: 3})
	r.Insert(Token{Type: 1, Node: 2, At: 3})
	r.Insert(Token{Type: 1, Node: 1, At: 12})

	assert.Equal(t, []Token{
		{Type: 1, Node: 1, At: 3},
		{Type: 1, Node: 2, At: 3},
		{Type: 1, Node: 3, At: 9},
		{Type: 1, Node: 1, At: 12},
	}, r.Tokens())
	assert.Len(t, r.Find(1, 1), 2)

	r.Reset()
	assert.Zero(t, r.Count())
	assert.Empty(t, r.Tokens())
}

func TestRegistry_CallbackReinserts(t *testing.T) {
	var r *Registry
	fired := 0
	r = New(func(tok Token) {
		fired++
		if tok.At < 3 {
			r.Insert(Token{Type: tok.Type, Node: tok.Node, At: tok.At + 1})
		}
	}, nil)
	r.Insert(Token{Type: 1, Node: 1, At: 1})

	assert.Equal(t, 3, r.Tick(5))
	assert.Equal(t, 3, fired)
	assert.Zero(t, r.Count())
}
