// Package types provides the runtime representation of Lox values shared by
// the compiler and the virtual machine: the immediate values (nil, booleans,
// numbers), the heap objects (strings, functions, natives, closures,
// upvalues), the bytecode chunk and the interning hash table.
package types

import "strconv"

// Value is the interface implemented by any value manipulated by the
// machine. Variants are matched by type switch: NilType, Bool, Number, or
// one of the heap Object kinds.
type Value interface {
	// String returns the string representation of the value, as produced by
	// the print statement.
	String() string

	// Type returns a short string describing the value's type.
	Type() string
}

// NilType is the type of nil. Its only legal value is Nil. (We represent it
// as a number, not struct{}, so that Nil may be constant.)
type NilType byte

// Nil is a Value.
const Nil = NilType(0)

var _ Value = Nil

func (NilType) String() string { return "nil" }
func (NilType) Type() string   { return "nil" }

// Bool is the type of the boolean values True and False.
type Bool bool

const (
	True  = Bool(true)
	False = Bool(false)
)

var _ Value = False

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (b Bool) Type() string { return "bool" }

// Number is the type of a Lox number, an IEEE-754 double.
type Number float64

var _ Value = Number(0)

func (n Number) String() string { return strconv.FormatFloat(float64(n), 'g', -1, 64) }
func (n Number) Type() string   { return "number" }

// Truth reports the truthiness of v: nil and false are falsey, every other
// value (including zero) is truthy.
func Truth(v Value) bool {
	switch v := v.(type) {
	case NilType:
		return false
	case Bool:
		return bool(v)
	}
	return true
}

// Equal reports whether two values are equal. Values of different kinds are
// unequal; numbers compare with IEEE equality; heap objects compare by
// identity, which for strings is structural equality because they are
// interned.
func Equal(x, y Value) bool {
	switch x := x.(type) {
	case NilType:
		_, ok := y.(NilType)
		return ok
	case Bool:
		yb, ok := y.(Bool)
		return ok && x == yb
	case Number:
		yn, ok := y.(Number)
		return ok && x == yn
	}
	return x == y
}
