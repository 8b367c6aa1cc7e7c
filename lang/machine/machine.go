// Package machine implements the stack-based virtual machine that executes
// compiled Lox functions: the value stack, the call-frame stack, closure
// construction and the open/closed upvalue lifecycle.
package machine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mna/lotus/lang/compiler"
	"github.com/mna/lotus/lang/types"
)

const (
	// FramesMax bounds the depth of the call-frame stack.
	FramesMax = 64
	// StackMax is the fixed capacity of the value stack.
	StackMax = FramesMax * 256
)

// ErrRuntime is returned when execution fails. The error message and stack
// trace have already been written to the machine's Stderr.
var ErrRuntime = errors.New("runtime error")

// A frame is the activation record of one call: the closure being run, the
// byte offset of the next instruction in its chunk, and the base index of
// its window into the value stack (slot 0 holds the callee).
type frame struct {
	closure *types.Closure
	ip      int
	slots   int
}

// VM executes compiled Lox programs. The heap passed to New must be the one
// the compiler allocated into, so that interned strings keep their identity
// at runtime. A VM is single-threaded; its state is only ever mutated by the
// goroutine driving Interpret.
type VM struct {
	// Stdout and Stderr are the machine's output and diagnostic sinks. If
	// nil, os.Stdout and os.Stderr are used.
	Stdout io.Writer
	Stderr io.Writer

	// Trace, when non-nil, receives the value stack and the disassembly of
	// each instruction before it executes.
	Trace io.Writer

	heap         *types.Heap
	stack        [StackMax]types.Value
	top          int
	frames       [FramesMax]frame
	frameCount   int
	openUpvalues *types.Upvalue
	globals      types.Table
	started      time.Time
}

// New returns a machine ready to run functions compiled against heap, with
// the native functions already defined.
func New(heap *types.Heap) *VM {
	vm := &VM{heap: heap, started: time.Now()}
	vm.DefineNative("clock", func([]types.Value) types.Value {
		return types.Number(time.Since(vm.started).Seconds())
	})
	return vm
}

// DefineNative registers a native function under name in the globals table.
func (vm *VM) DefineNative(name string, fn types.NativeFn) {
	vm.globals.Set(vm.heap.Intern(name), vm.heap.NewNative(fn))
}

// Globals exposes the machine's global namespace, mainly for embedders and
// tests.
func (vm *VM) Globals() *types.Table { return &vm.globals }

// Interpret wraps the compiled top-level function in a closure, bootstraps
// the first frame and runs to completion. On runtime error the diagnostics
// are written to Stderr, the stacks are reset and ErrRuntime is returned;
// the machine remains usable for a subsequent Interpret (globals persist).
func (vm *VM) Interpret(fn *types.Function) error {
	closure := vm.heap.NewClosure(fn)
	vm.push(closure)
	vm.call(closure, 0)
	return vm.run()
}

func (vm *VM) stdout() io.Writer {
	if vm.Stdout != nil {
		return vm.Stdout
	}
	return os.Stdout
}

func (vm *VM) stderr() io.Writer {
	if vm.Stderr != nil {
		return vm.Stderr
	}
	return os.Stderr
}

func (vm *VM) push(v types.Value) {
	vm.stack[vm.top] = v
	vm.top++
}

func (vm *VM) pop() types.Value {
	vm.top--
	return vm.stack[vm.top]
}

func (vm *VM) peek(distance int) types.Value {
	return vm.stack[vm.top-1-distance]
}

func (vm *VM) resetStack() {
	vm.top = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// runtimeError reports a runtime failure: the message, then one line per
// live frame from innermost to outermost. The stacks are reset so the
// machine can keep serving a REPL.
func (vm *VM) runtimeError(format string, args ...any) {
	w := vm.stderr()
	fmt.Fprintf(w, format, args...)
	fmt.Fprintln(w)

	for i := vm.frameCount - 1; i >= 0; i-- {
		fr := &vm.frames[i]
		fn := fr.closure.Fn
		// ip is one past the last byte read of the failing instruction
		line := fn.Chunk.Lines[fr.ip-1]
		if fn.Name == nil {
			fmt.Fprintf(w, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(w, "[line %d] in %s()\n", line, fn.Name)
		}
	}
	vm.resetStack()
}

func (vm *VM) run() error {
	fr := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := fr.closure.Fn.Chunk.Code[fr.ip]
		fr.ip++
		return b
	}
	readShort := func() int {
		hi, lo := readByte(), readByte()
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() types.Value {
		return fr.closure.Fn.Chunk.Constants[readByte()]
	}
	readString := func() *types.String {
		return readConstant().(*types.String)
	}

	for {
		if vm.Trace != nil {
			fmt.Fprint(vm.Trace, "          ")
			for i := 0; i < vm.top; i++ {
				fmt.Fprintf(vm.Trace, "[ %s ]", vm.stack[i])
			}
			fmt.Fprintln(vm.Trace)
			compiler.DisassembleInstruction(vm.Trace, &fr.closure.Fn.Chunk, fr.ip)
		}

		switch op := compiler.Opcode(readByte()); op {
		case compiler.CONSTANT:
			vm.push(readConstant())

		case compiler.NIL:
			vm.push(types.Nil)

		case compiler.TRUE:
			vm.push(types.True)

		case compiler.FALSE:
			vm.push(types.False)

		case compiler.POP:
			vm.pop()

		case compiler.GETLOCAL:
			slot := readByte()
			vm.push(vm.stack[fr.slots+int(slot)])

		case compiler.SETLOCAL:
			slot := readByte()
			vm.stack[fr.slots+int(slot)] = vm.peek(0)

		case compiler.GETGLOBAL:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name)
				return ErrRuntime
			}
			vm.push(v)

		case compiler.DEFINEGLOBAL:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case compiler.SETGLOBAL:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				// assignment does not create globals: undo and fail
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name)
				return ErrRuntime
			}

		case compiler.GETUPVALUE:
			slot := readByte()
			vm.push(vm.upvalueGet(fr.closure.Upvalues[slot]))

		case compiler.SETUPVALUE:
			slot := readByte()
			vm.upvalueSet(fr.closure.Upvalues[slot], vm.peek(0))

		case compiler.EQUAL:
			y := vm.pop()
			x := vm.pop()
			vm.push(types.Bool(types.Equal(x, y)))

		case compiler.GREATER:
			x, y, ok := vm.popNumbers()
			if !ok {
				return ErrRuntime
			}
			vm.push(types.Bool(x > y))

		case compiler.LESS:
			x, y, ok := vm.popNumbers()
			if !ok {
				return ErrRuntime
			}
			vm.push(types.Bool(x < y))

		case compiler.ADD:
			if xs, ok := vm.peek(1).(*types.String); ok {
				if ys, ok := vm.peek(0).(*types.String); ok {
					vm.pop()
					vm.pop()
					vm.push(vm.heap.Intern(xs.String() + ys.String()))
					break
				}
			}
			if _, ok := vm.peek(1).(types.Number); ok {
				if _, ok := vm.peek(0).(types.Number); ok {
					y := vm.pop().(types.Number)
					x := vm.pop().(types.Number)
					vm.push(x + y)
					break
				}
			}
			vm.runtimeError("Operands must be two numbers or two strings.")
			return ErrRuntime

		case compiler.SUBTRACT:
			x, y, ok := vm.popNumbers()
			if !ok {
				return ErrRuntime
			}
			vm.push(x - y)

		case compiler.MULTIPLY:
			x, y, ok := vm.popNumbers()
			if !ok {
				return ErrRuntime
			}
			vm.push(x * y)

		case compiler.DIVIDE:
			x, y, ok := vm.popNumbers()
			if !ok {
				return ErrRuntime
			}
			vm.push(x / y)

		case compiler.NOT:
			vm.push(types.Bool(!types.Truth(vm.pop())))

		case compiler.NEGATE:
			n, ok := vm.peek(0).(types.Number)
			if !ok {
				vm.runtimeError("Operand must be a number.")
				return ErrRuntime
			}
			vm.pop()
			vm.push(-n)

		case compiler.PRINT:
			fmt.Fprintln(vm.stdout(), vm.pop())

		case compiler.JUMP:
			off := readShort()
			fr.ip += off

		case compiler.JUMPIFFALSE:
			off := readShort()
			// the condition stays on the stack, consumers pop it
			if !types.Truth(vm.peek(0)) {
				fr.ip += off
			}

		case compiler.LOOP:
			off := readShort()
			fr.ip -= off

		case compiler.CALL:
			argc := int(readByte())
			if !vm.callValue(vm.peek(argc), argc) {
				return ErrRuntime
			}
			fr = &vm.frames[vm.frameCount-1]

		case compiler.CLOSURE:
			fn := readConstant().(*types.Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(closure)
			for i := range closure.Upvalues {
				isLocal, index := readByte(), readByte()
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(fr.slots + int(index))
				} else {
					closure.Upvalues[i] = fr.closure.Upvalues[index]
				}
			}

		case compiler.CLOSEUPVALUE:
			vm.closeUpvalues(vm.top - 1)
			vm.pop()

		case compiler.RETURN:
			result := vm.pop()
			vm.closeUpvalues(fr.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				// pop the script closure itself
				vm.pop()
				return nil
			}
			vm.top = fr.slots
			vm.push(result)
			fr = &vm.frames[vm.frameCount-1]

		default:
			// a well-formed chunk never reaches this
			vm.runtimeError("Unknown opcode %d.", byte(op))
			return ErrRuntime
		}
	}
}

// popNumbers pops the two operands of a numeric binary instruction,
// reporting a runtime error if either is not a number.
func (vm *VM) popNumbers() (x, y types.Number, ok bool) {
	yv, okY := vm.peek(0).(types.Number)
	xv, okX := vm.peek(1).(types.Number)
	if !okX || !okY {
		vm.runtimeError("Operands must be numbers.")
		return 0, 0, false
	}
	vm.pop()
	vm.pop()
	return xv, yv, true
}

// callValue dispatches a CALL on any value: closures push a frame, natives
// run inline on the machine's goroutine, everything else is an error.
func (vm *VM) callValue(callee types.Value, argc int) bool {
	switch callee := callee.(type) {
	case *types.Closure:
		return vm.call(callee, argc)
	case *types.Native:
		result := callee.Fn(vm.stack[vm.top-argc : vm.top])
		vm.top -= argc + 1
		vm.push(result)
		return true
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

func (vm *VM) call(closure *types.Closure, argc int) bool {
	if argc != closure.Fn.Arity {
		vm.runtimeError("Expected %d arguments but got %d.", closure.Fn.Arity, argc)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}
	vm.frames[vm.frameCount] = frame{
		closure: closure,
		ip:      0,
		slots:   vm.top - argc - 1,
	}
	vm.frameCount++
	return true
}

func (vm *VM) upvalueGet(u *types.Upvalue) types.Value {
	if u.IsOpen() {
		return vm.stack[u.Loc]
	}
	return u.Closed
}

func (vm *VM) upvalueSet(u *types.Upvalue, v types.Value) {
	if u.IsOpen() {
		vm.stack[u.Loc] = v
		return
	}
	u.Closed = v
}

// captureUpvalue returns the open upvalue for the given stack slot, sharing
// an existing one if any closure already captured that slot. The open list
// stays sorted by strictly decreasing slot.
func (vm *VM) captureUpvalue(loc int) *types.Upvalue {
	var prev *types.Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Loc > loc {
		prev = uv
		uv = uv.Next
	}
	if uv != nil && uv.Loc == loc {
		return uv
	}

	created := vm.heap.NewUpvalue(loc)
	created.Next = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given stack slot,
// moving the captured value into the upvalue's own cell. Closures that
// shared the open upvalue keep sharing the closed cell.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Loc >= last {
		uv := vm.openUpvalues
		uv.Closed = vm.stack[uv.Loc]
		uv.Loc = -1
		vm.openUpvalues = uv.Next
	}
}
