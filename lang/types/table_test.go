package types

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableSetGet(t *testing.T) {
	h := NewHeap()
	var tbl Table

	k := h.Intern("answer")
	require.True(t, tbl.Set(k, Number(42)))
	v, ok := tbl.Get(k)
	require.True(t, ok)
	require.Equal(t, Number(42), v)

	// overwriting is not a new key
	require.False(t, tbl.Set(k, Number(43)))
	v, _ = tbl.Get(k)
	require.Equal(t, Number(43), v)
}

func TestTableDelete(t *testing.T) {
	h := NewHeap()
	var tbl Table

	k1, k2 := h.Intern("a"), h.Intern("b")
	tbl.Set(k1, Number(1))
	tbl.Set(k2, Number(2))

	require.True(t, tbl.Delete(k1))
	_, ok := tbl.Get(k1)
	require.False(t, ok)
	require.False(t, tbl.Delete(k1))

	// the tombstone must not break the probe chain
	v, ok := tbl.Get(k2)
	require.True(t, ok)
	require.Equal(t, Number(2), v)

	// a tombstone slot is recycled on reinsertion
	require.True(t, tbl.Set(k1, Number(3)))
	v, _ = tbl.Get(k1)
	require.Equal(t, Number(3), v)
}

func TestTableGrowKeepsEntries(t *testing.T) {
	h := NewHeap()
	var tbl Table

	const n = 100
	keys := make([]*String, n)
	for i := 0; i < n; i++ {
		keys[i] = h.Intern("key" + strconv.Itoa(i))
		tbl.Set(keys[i], Number(i))
	}
	for i, k := range keys {
		v, ok := tbl.Get(k)
		require.True(t, ok, "key %d lost after growth", i)
		require.Equal(t, Number(i), v)
	}
	// capacity is a power of two and the load factor holds
	require.Equal(t, 0, len(tbl.entries)&(len(tbl.entries)-1))
	require.LessOrEqual(t, float64(tbl.count), float64(len(tbl.entries))*tableMaxLoad)
}

func TestTableAddAll(t *testing.T) {
	h := NewHeap()
	var src, dst Table

	for _, s := range []string{"x", "y", "z"} {
		src.Set(h.Intern(s), h.Intern(s+s))
	}
	src.Delete(h.Intern("y"))
	dst.AddAll(&src)

	_, ok := dst.Get(h.Intern("y"))
	require.False(t, ok)
	for _, s := range []string{"x", "z"} {
		v, ok := dst.Get(h.Intern(s))
		require.True(t, ok)
		require.Equal(t, s+s, v.String())
	}
}

func TestInterning(t *testing.T) {
	h := NewHeap()

	s1 := h.Intern("hello")
	s2 := h.Intern("hello")
	require.Same(t, s1, s2)

	s3 := h.Intern("world")
	require.NotSame(t, s1, s3)

	// FindString locates by content, not identity
	found := h.strings.FindString("hello", HashString("hello"))
	require.Same(t, s1, found)
	require.Nil(t, h.strings.FindString("nope", HashString("nope")))

	// repeated interning allocates no new object
	before := h.objectCount()
	h.Intern("hello")
	require.Equal(t, before, h.objectCount())
}
