package compiler

import (
	"fmt"
	"io"

	"github.com/mna/lotus/lang/types"
)

// DisassembleChunk writes a human-readable listing of every instruction in
// the chunk under a header naming it.
func DisassembleChunk(w io.Writer, ch *types.Chunk, name string) {
	d := &dasm{w: w, ch: ch}
	d.writef("== %s ==\n", name)
	for offset := 0; offset < len(ch.Code); {
		offset = d.instruction(offset)
	}
}

// DisassembleFunction lists fn's chunk, then recursively the chunk of every
// function found in its constant pool.
func DisassembleFunction(w io.Writer, fn *types.Function) {
	DisassembleChunk(w, &fn.Chunk, fn.String())
	for _, v := range fn.Chunk.Constants {
		if sub, ok := v.(*types.Function); ok {
			DisassembleFunction(w, sub)
		}
	}
}

// DisassembleInstruction writes the single instruction at offset and returns
// the offset of the next one.
func DisassembleInstruction(w io.Writer, ch *types.Chunk, offset int) int {
	d := &dasm{w: w, ch: ch}
	return d.instruction(offset)
}

// dasm accumulates output on a writer, latching the first write error.
type dasm struct {
	w   io.Writer
	ch  *types.Chunk
	err error
}

func (d *dasm) instruction(offset int) int {
	d.writef("%04d ", offset)
	if offset > 0 && d.ch.Lines[offset] == d.ch.Lines[offset-1] {
		d.writef("   | ")
	} else {
		d.writef("%4d ", d.ch.Lines[offset])
	}

	op := Opcode(d.ch.Code[offset])
	switch op {
	case CONSTANT, GETGLOBAL, DEFINEGLOBAL, SETGLOBAL:
		return d.constantInstruction(op, offset)
	case GETLOCAL, SETLOCAL, GETUPVALUE, SETUPVALUE, CALL:
		return d.byteInstruction(op, offset)
	case JUMP, JUMPIFFALSE:
		return d.jumpInstruction(op, 1, offset)
	case LOOP:
		return d.jumpInstruction(op, -1, offset)
	case CLOSURE:
		return d.closureInstruction(offset)
	case NIL, TRUE, FALSE, POP, EQUAL, GREATER, LESS, ADD, SUBTRACT,
		MULTIPLY, DIVIDE, NOT, NEGATE, PRINT, CLOSEUPVALUE, RETURN:
		d.writef("%s\n", op)
		return offset + 1
	default:
		d.writef("unknown opcode %d\n", byte(op))
		return offset + 1
	}
}

func (d *dasm) constantInstruction(op Opcode, offset int) int {
	idx := d.ch.Code[offset+1]
	d.writef("%-16s %4d '%s'\n", op.String(), idx, d.ch.Constants[idx])
	return offset + 2
}

func (d *dasm) byteInstruction(op Opcode, offset int) int {
	d.writef("%-16s %4d\n", op.String(), d.ch.Code[offset+1])
	return offset + 2
}

func (d *dasm) jumpInstruction(op Opcode, sign, offset int) int {
	jump := int(d.ch.Code[offset+1])<<8 | int(d.ch.Code[offset+2])
	d.writef("%-16s %4d -> %d\n", op.String(), offset, offset+3+sign*jump)
	return offset + 3
}

// closureInstruction decodes the variable-length CLOSURE encoding: the
// referenced function's upvalue count dictates how many (isLocal, index)
// pairs follow the constant operand.
func (d *dasm) closureInstruction(offset int) int {
	offset++
	idx := d.ch.Code[offset]
	offset++
	fn := d.ch.Constants[idx].(*types.Function)
	d.writef("%-16s %4d %s\n", CLOSURE.String(), idx, fn)
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal, index := d.ch.Code[offset], d.ch.Code[offset+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		d.writef("%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}

func (d *dasm) writef(s string, args ...any) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, s, args...)
}
