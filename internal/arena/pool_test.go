package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RemoveShrinksByOne(t *testing.T) {
	p := NewPool([]string{"a", "b", "c", "d"})

	require.True(t, p.Remove("b"))
	assert.Equal(t, 3, p.Size())
	assert.False(t, p.Contains("b"))
	assert.ElementsMatch(t, []string{"a", "c", "d"}, p.IDs())
}

func TestPool_RemoveIsIdempotent(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"})
	require.True(t, p.Remove("a"))

	before := p.IDs()
	assert.False(t, p.Remove("a"), "second removal must be a no-op")
	assert.False(t, p.Remove("zzz"), "unknown id must be a no-op")
	assert.Equal(t, before, p.IDs())
}

func TestPool_RemoveLastAndFirst(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"})

	require.True(t, p.Remove("c"))
	require.True(t, p.Remove("a"))
	assert.Equal(t, []string{"b"}, p.IDs())
	assert.Equal(t, "b", p.At(0))

	require.True(t, p.Remove("b"))
	assert.Equal(t, 0, p.Size())
}

func TestPool_IndexStaysConsistentAfterSwap(t *testing.T) {
	p := NewPool([]string{"a", "b", "c", "d", "e"})

	p.Remove("b") // "e" moves into slot 1
	for i := 0; i < p.Size(); i++ {
		assert.True(t, p.Contains(p.At(i)))
	}
	require.True(t, p.Remove("e"))
	assert.ElementsMatch(t, []string{"a", "c", "d"}, p.IDs())
}

func TestPool_ResetRestoresFullSet(t *testing.T) {
	ids := []string{"a", "b", "c"}
	p := NewPool(ids)
	p.Remove("a")
	p.Remove("c")

	p.Reset()
	assert.Equal(t, ids, p.IDs())
	assert.Equal(t, 3, p.InitialSize())
}

func TestPool_InitializeCopiesInput(t *testing.T) {
	ids := []string{"a", "b"}
	p := NewPool(ids)
	ids[0] = "mutated"

	assert.True(t, p.Contains("a"))
	assert.False(t, p.Contains("mutated"))
}

func TestPool_IDsReturnsCopy(t *testing.T) {
	p := NewPool([]string{"a", "b"})
	out := p.IDs()
	out[0] = "x"

	assert.Equal(t, "a", p.At(0))
}
