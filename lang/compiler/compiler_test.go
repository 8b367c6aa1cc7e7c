package compiler

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/mna/lotus/lang/token"
	"github.com/mna/lotus/lang/types"
	"github.com/stretchr/testify/require"
)

func compileSrc(t *testing.T, src string) *types.Function {
	t.Helper()
	var errb bytes.Buffer
	fn, err := Compile([]byte(src), types.NewHeap(), &errb)
	require.NoError(t, err, "diagnostics: %s", errb.String())
	require.Empty(t, errb.String())
	return fn
}

func compileErr(t *testing.T, src string) string {
	t.Helper()
	var errb bytes.Buffer
	fn, err := Compile([]byte(src), types.NewHeap(), &errb)
	require.ErrorIs(t, err, ErrCompile)
	require.Nil(t, fn)
	return errb.String()
}

func TestParserPrimitives(t *testing.T) {
	var errb bytes.Buffer
	p := &parser{heap: types.NewHeap(), errw: &errb}
	p.sc.Init([]byte("var x"))
	p.advance()

	require.True(t, p.check(token.VAR))
	require.False(t, p.check(token.IDENT))
	require.False(t, p.match(token.IDENT))
	require.True(t, p.match(token.VAR))
	require.Equal(t, token.VAR, p.previous.Kind)

	p.consume(token.IDENT, "want ident")
	require.False(t, p.panicMode)
	require.Equal(t, "x", p.previous.Text())

	p.consume(token.SEMI, "want semi")
	require.True(t, p.panicMode)
	require.True(t, p.hadError)
}

func TestPrecedenceEmission(t *testing.T) {
	cases := []struct {
		desc      string
		src       string
		code      []byte
		constants []types.Value
	}{
		{
			"factor binds tighter than term",
			"1 + 2 * 3;",
			[]byte{
				byte(CONSTANT), 0, byte(CONSTANT), 1, byte(CONSTANT), 2,
				byte(MULTIPLY), byte(ADD), byte(POP),
				byte(NIL), byte(RETURN),
			},
			[]types.Value{types.Number(1), types.Number(2), types.Number(3)},
		},
		{
			"unary negate",
			"-1.1;",
			[]byte{
				byte(CONSTANT), 0, byte(NEGATE), byte(POP),
				byte(NIL), byte(RETURN),
			},
			[]types.Value{types.Number(1.1)},
		},
		{
			"comparison desugaring",
			"1 >= 2;",
			[]byte{
				byte(CONSTANT), 0, byte(CONSTANT), 1,
				byte(LESS), byte(NOT), byte(POP),
				byte(NIL), byte(RETURN),
			},
			[]types.Value{types.Number(1), types.Number(2)},
		},
		{
			"grouping overrides precedence",
			"(1 + 2) * 3;",
			[]byte{
				byte(CONSTANT), 0, byte(CONSTANT), 1, byte(ADD),
				byte(CONSTANT), 2, byte(MULTIPLY), byte(POP),
				byte(NIL), byte(RETURN),
			},
			[]types.Value{types.Number(1), types.Number(2), types.Number(3)},
		},
		{
			"not equal",
			"1 != 2;",
			[]byte{
				byte(CONSTANT), 0, byte(CONSTANT), 1,
				byte(EQUAL), byte(NOT), byte(POP),
				byte(NIL), byte(RETURN),
			},
			[]types.Value{types.Number(1), types.Number(2)},
		},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			fn := compileSrc(t, c.src)
			require.Equal(t, c.code, fn.Chunk.Code)
			require.Equal(t, c.constants, fn.Chunk.Constants)
		})
	}
}

func TestGlobalAndLocalEmission(t *testing.T) {
	fn := compileSrc(t, "var a = 1; { var b = 2; print b; } print a;")
	want := []byte{
		byte(CONSTANT), 1, byte(DEFINEGLOBAL), 0, // var a = 1
		byte(CONSTANT), 2, // var b = 2, value stays in slot 1
		byte(GETLOCAL), 1, byte(PRINT), // print b
		byte(POP),                                // end of block drops b
		byte(GETGLOBAL), 3, byte(PRINT), // print a
		byte(NIL), byte(RETURN),
	}
	require.Equal(t, want, fn.Chunk.Code)
}

func TestJumpEmission(t *testing.T) {
	var errb bytes.Buffer
	p := &parser{heap: types.NewHeap(), errw: &errb}
	c := newFuncCompiler(p, nil, kindScript)

	ofs := c.emitJump(JUMPIFFALSE)
	require.Equal(t, c.chunk().Count()-2, ofs)
	require.Equal(t, []byte{byte(JUMPIFFALSE), 0xff, 0xff}, c.chunk().Code)

	c.emitOp(POP)
	c.emitOp(POP)
	c.patchJump(ofs)
	jump := int(c.chunk().Code[ofs])<<8 | int(c.chunk().Code[ofs+1])
	require.Equal(t, c.chunk().Count()-ofs-2, jump)

	start := 1
	preLoop := c.chunk().Count()
	c.emitLoop(start)
	require.Equal(t, byte(LOOP), c.chunk().Code[preLoop])
	back := int(c.chunk().Code[preLoop+1])<<8 | int(c.chunk().Code[preLoop+2])
	require.Equal(t, preLoop+3-start, back)
	require.False(t, p.hadError)
}

func TestUpvalueResolution(t *testing.T) {
	fn := compileSrc(t, `
fun outer() {
  var x = 1;
  fun inner() { print x; }
  inner();
}
`)
	// script constants: [name "outer", outer fn]
	var outer *types.Function
	for _, v := range fn.Chunk.Constants {
		if f, ok := v.(*types.Function); ok {
			outer = f
		}
	}
	require.NotNil(t, outer)

	var inner *types.Function
	for _, v := range outer.Chunk.Constants {
		if f, ok := v.(*types.Function); ok {
			inner = f
		}
	}
	require.NotNil(t, inner)
	require.Equal(t, 1, inner.UpvalueCount)
	require.Equal(t, 0, outer.UpvalueCount)

	// inner reads x through upvalue slot 0
	require.Contains(t, string(inner.Chunk.Code), string([]byte{byte(GETUPVALUE), 0}))

	// outer emits CLOSURE followed by the (isLocal=1, index=1) pair
	code := outer.Chunk.Code
	i := bytes.IndexByte(code, byte(CLOSURE))
	require.GreaterOrEqual(t, i, 0)
	require.Equal(t, byte(1), code[i+2], "isLocal")
	require.Equal(t, byte(1), code[i+3], "captured local slot")
}

func TestCapturedLocalClosesOnScopeExit(t *testing.T) {
	fn := compileSrc(t, `
{
  var x = 1;
  fun show() { print x; }
}
var y = 1;
{
  var z = y;
  print z;
}
`)
	code := fn.Chunk.Code
	require.Contains(t, string(code), string([]byte{byte(CLOSEUPVALUE)}),
		"captured local is closed, not popped")
	// the uncaptured block local is popped normally
	require.Contains(t, string(code), string([]byte{byte(POP)}))
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		desc string
		src  string
		want string
	}{
		{"missing var name", "var 1;", "Expect variable name."},
		{"duplicate local", "{ var a; var a; }", "Variable with this name already declared in this scope."},
		{"top-level return", "return 1;", "Cannot return from top-level code."},
		{"missing expression", "1 + ;", "Expect expression."},
		{"invalid assignment", "1 = 2;", "Invalid assignment target."},
		{"assignment in expression", "var a; var b; a + b = 1;", "Invalid assignment target."},
		{"own initializer", "{ var a = a; }", "Cannot read local variable in its own initializer."},
		{"missing semi", "print 1", "Expect ';' after value."},
		{"unterminated string", `print "abc`, "Unterminated string."},
		{"unexpected char", "print @;", "Unexpected character."},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			out := compileErr(t, c.src)
			require.Contains(t, out, c.want)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	out := compileErr(t, "1 = 2;")
	require.Equal(t, "[line 1] Error at '=': Invalid assignment target.\n", out)

	out = compileErr(t, "print 1")
	require.Equal(t, "[line 1] Error at end: Expect ';' after value.\n", out)
}

func TestPanicModeRecovery(t *testing.T) {
	// one error per statement: panic mode suppresses the cascade, the
	// synchronization point at ';' re-arms reporting
	out := compileErr(t, "var 1;\nvar 2;\n")
	require.Equal(t, 2, strings.Count(out, "Error"))
	require.Contains(t, out, "[line 1]")
	require.Contains(t, out, "[line 2]")
}

func TestTooManyConstants(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "print %d;\n", i)
	}
	out := compileErr(t, sb.String())
	require.Contains(t, out, "Too many constants in one chunk.")
}

func TestTooManyParamsAndArgs(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("fun f(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "p%d", i)
	}
	sb.WriteString(") { return; }\n")
	out := compileErr(t, sb.String())
	require.Contains(t, out, "Cannot have more than 255 parameters.")

	sb.Reset()
	sb.WriteString("fun f(a) { return; }\nf(")
	for i := 0; i < 256; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("1")
	}
	sb.WriteString(");\n")
	out = compileErr(t, sb.String())
	require.Contains(t, out, "Cannot have more than 255 arguments.")
}

func TestTooManyLocals(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("{\n")
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&sb, "var l%d;\n", i)
	}
	sb.WriteString("}\n")
	out := compileErr(t, sb.String())
	require.Contains(t, out, "Too many local variables in function.")
}

func TestFunctionMetadata(t *testing.T) {
	fn := compileSrc(t, "fun add(a, b) { return a + b; }")
	require.Nil(t, fn.Name)

	var add *types.Function
	for _, v := range fn.Chunk.Constants {
		if f, ok := v.(*types.Function); ok {
			add = f
		}
	}
	require.NotNil(t, add)
	require.Equal(t, 2, add.Arity)
	require.Equal(t, "add", add.Name.String())
	require.Equal(t, "<fn add>", add.String())
}
