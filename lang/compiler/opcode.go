package compiler

import "fmt"

// An Opcode is a single-byte instruction, followed by 0, 1 or 2 operand
// bytes. Jump operands are 16-bit big-endian.
type Opcode uint8

// "x y ADD x+y" is a stack picture describing the stack before and after
// execution of the instruction (top on the right).
//
// OP<k> indicates a one-byte immediate operand indexing the constant pool,
// the frame's local slots or the closure's upvalues.
const ( //nolint:revive
	CONSTANT Opcode = iota //            - CONSTANT<k>      constants[k]

	NIL   //                             - NIL              nil
	TRUE  //                             - TRUE             true
	FALSE //                             - FALSE            false
	POP   //                           x POP               -

	GETLOCAL     //                      - GETLOCAL<slot>   slots[slot]
	SETLOCAL     //                    x SETLOCAL<slot>    x
	GETGLOBAL    //                      - GETGLOBAL<k>     globals[name]
	DEFINEGLOBAL //                    x DEFINEGLOBAL<k>   -
	SETGLOBAL    //                    x SETGLOBAL<k>      x
	GETUPVALUE   //                      - GETUPVALUE<slot> *upvalues[slot]
	SETUPVALUE   //                    x SETUPVALUE<slot>  x

	EQUAL    //                      x y EQUAL             x==y
	GREATER  //                      x y GREATER           x>y
	LESS     //                      x y LESS              x<y
	ADD      //                      x y ADD               x+y
	SUBTRACT //                      x y SUBTRACT          x-y
	MULTIPLY //                      x y MULTIPLY          x*y
	DIVIDE   //                      x y DIVIDE            x/y
	NOT      //                        x NOT               !x
	NEGATE   //                        x NEGATE            -x

	PRINT //                           x PRINT             -

	JUMP        //                       - JUMP<off>         -      ip += off
	JUMPIFFALSE //                  cond JUMPIFFALSE<off>  cond   no pop, consumers POP both paths
	LOOP        //                       - LOOP<off>         -      ip -= off

	CALL //        fn arg1 .. argn CALL<n>           result

	// CLOSURE's constant operand is followed by upvalueCount pairs of
	// (isLocal, index) bytes describing each captured variable.
	CLOSURE      //                      - CLOSURE<k> pairs... closure
	CLOSEUPVALUE //                    x CLOSEUPVALUE      -      hoist x into its upvalue
	RETURN       //                    x RETURN            -      pop frame, push x for the caller

	OpcodeMax = RETURN
)

var opcodeNames = [...]string{
	ADD:          "add",
	CALL:         "call",
	CLOSEUPVALUE: "closeupvalue",
	CLOSURE:      "closure",
	CONSTANT:     "constant",
	DEFINEGLOBAL: "defineglobal",
	DIVIDE:       "divide",
	EQUAL:        "equal",
	FALSE:        "false",
	GETGLOBAL:    "getglobal",
	GETLOCAL:     "getlocal",
	GETUPVALUE:   "getupvalue",
	GREATER:      "greater",
	JUMP:         "jump",
	JUMPIFFALSE:  "jumpiffalse",
	LESS:         "less",
	LOOP:         "loop",
	MULTIPLY:     "multiply",
	NEGATE:       "negate",
	NIL:          "nil",
	NOT:          "not",
	POP:          "pop",
	PRINT:        "print",
	RETURN:       "return",
	SETGLOBAL:    "setglobal",
	SETLOCAL:     "setlocal",
	SETUPVALUE:   "setupvalue",
	SUBTRACT:     "subtract",
	TRUE:         "true",
}

func (op Opcode) String() string {
	if op <= OpcodeMax {
		if name := opcodeNames[op]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("illegal op (%d)", op)
}
