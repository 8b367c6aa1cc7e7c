package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueString(t *testing.T) {
	h := NewHeap()
	fn := h.NewFunction()
	named := h.NewFunction()
	named.Name = h.Intern("add")
	cl := h.NewClosure(named)

	cases := []struct {
		v    Value
		want string
	}{
		{Nil, "nil"},
		{True, "true"},
		{False, "false"},
		{Number(0), "0"},
		{Number(5), "5"},
		{Number(1.25), "1.25"},
		{Number(-0.5), "-0.5"},
		{h.Intern("hi"), "hi"},
		{fn, "<script>"},
		{named, "<fn add>"},
		{cl, "<fn add>"},
		{h.NewNative(func([]Value) Value { return Nil }), "<native fn>"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.v.String())
	}
}

func TestTruth(t *testing.T) {
	h := NewHeap()
	require.False(t, Truth(Nil))
	require.False(t, Truth(False))
	require.True(t, Truth(True))
	require.True(t, Truth(Number(0)))
	require.True(t, Truth(Number(1)))
	require.True(t, Truth(h.Intern("")))
}

func TestEqual(t *testing.T) {
	h := NewHeap()
	s1 := h.Intern("abc")
	s2 := h.Intern("abc")
	s3 := h.Intern("abd")

	require.True(t, Equal(Nil, Nil))
	require.True(t, Equal(True, True))
	require.False(t, Equal(True, False))
	require.True(t, Equal(Number(1.5), Number(1.5)))
	require.False(t, Equal(Number(1), Number(2)))
	require.False(t, Equal(Number(math.NaN()), Number(math.NaN())))
	require.False(t, Equal(Nil, False))
	require.False(t, Equal(Number(0), False))
	require.True(t, Equal(s1, s2), "interned strings compare by identity")
	require.False(t, Equal(s1, s3))

	f1, f2 := h.NewFunction(), h.NewFunction()
	require.True(t, Equal(f1, f1))
	require.False(t, Equal(f1, f2))
}

func TestChunkWrite(t *testing.T) {
	var c Chunk
	c.Write(1, 10)
	c.Write(2, 10)
	c.Write(3, 11)
	require.Equal(t, 3, c.Count())
	require.Equal(t, []byte{1, 2, 3}, c.Code)
	require.Equal(t, []int{10, 10, 11}, c.Lines)
	require.Len(t, c.Lines, len(c.Code))

	require.Equal(t, 0, c.AddConstant(Number(1)))
	require.Equal(t, 1, c.AddConstant(Number(2)))
	require.Len(t, c.Constants, 2)
}

func TestHashString(t *testing.T) {
	// FNV-1a reference vectors
	require.Equal(t, uint32(0x811c9dc5), HashString(""))
	require.Equal(t, uint32(0xe40c292c), HashString("a"))
	require.Equal(t, uint32(0xe70c2de5), HashString("b"))
	require.Equal(t, uint32(0xbf9cf968), HashString("foobar"))
	require.Equal(t, HashString("a"), HashString("a"))
	require.NotEqual(t, HashString("a"), HashString("b"))
}
