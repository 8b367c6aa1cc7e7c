package machine

import (
	"bytes"
	"testing"

	"github.com/mna/lotus/lang/compiler"
	"github.com/mna/lotus/lang/types"
	"github.com/stretchr/testify/require"
)

func TestCaptureUpvalueSharing(t *testing.T) {
	heap := types.NewHeap()
	vm := New(heap)
	for i := 0; i < 5; i++ {
		vm.push(types.Number(i))
	}

	u3 := vm.captureUpvalue(3)
	u1 := vm.captureUpvalue(1)
	u2 := vm.captureUpvalue(2)

	// capturing the same slot again shares the existing upvalue
	require.Same(t, u2, vm.captureUpvalue(2))
	require.Same(t, u1, vm.captureUpvalue(1))

	// the open list is sorted by strictly decreasing slot
	var locs []int
	for u := vm.openUpvalues; u != nil; u = u.Next {
		locs = append(locs, u.Loc)
	}
	require.Equal(t, []int{3, 2, 1}, locs)

	require.Equal(t, types.Number(3), vm.upvalueGet(u3))
}

func TestCloseUpvalues(t *testing.T) {
	heap := types.NewHeap()
	vm := New(heap)
	for i := 0; i < 5; i++ {
		vm.push(types.Number(i))
	}

	u1 := vm.captureUpvalue(1)
	u2 := vm.captureUpvalue(2)
	u3 := vm.captureUpvalue(3)

	vm.closeUpvalues(2)

	require.False(t, u2.IsOpen())
	require.False(t, u3.IsOpen())
	require.True(t, u1.IsOpen())
	require.Equal(t, types.Number(2), vm.upvalueGet(u2))
	require.Equal(t, types.Number(3), vm.upvalueGet(u3))
	require.Same(t, u1, vm.openUpvalues)
	require.Nil(t, u1.Next)

	// writes through a closed upvalue hit its own cell, not the stack
	vm.upvalueSet(u3, types.Number(33))
	require.Equal(t, types.Number(33), u3.Closed)
	require.Equal(t, types.Number(3), vm.stack[3])
}

func TestCallReturnStackBalance(t *testing.T) {
	heap := types.NewHeap()
	var errb bytes.Buffer
	fn, err := compiler.Compile([]byte("fun id(x) { return x; }\nid(7);"), heap, &errb)
	require.NoError(t, err)

	vm := New(heap)
	vm.Stdout = &errb
	require.NoError(t, vm.Interpret(fn))

	// a completed run leaves both stacks empty and no open upvalue
	require.Equal(t, 0, vm.top)
	require.Equal(t, 0, vm.frameCount)
	require.Nil(t, vm.openUpvalues)
}

func TestResetOnRuntimeError(t *testing.T) {
	heap := types.NewHeap()
	var errb bytes.Buffer
	fn, err := compiler.Compile([]byte("fun f() { var a = 1; g(); }\nf();"), heap, &errb)
	require.NoError(t, err)

	vm := New(heap)
	vm.Stderr = &errb
	require.ErrorIs(t, vm.Interpret(fn), ErrRuntime)
	require.Equal(t, 0, vm.top)
	require.Equal(t, 0, vm.frameCount)
	require.Nil(t, vm.openUpvalues)
}
