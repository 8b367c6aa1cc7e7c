// Package compiler implements the single-pass Lox compiler: it pulls tokens
// from the scanner and emits bytecode chunks directly, resolving lexical
// scopes, locals and upvalues and patching forward jumps as it goes. There
// is no intermediate syntax tree. It also provides the disassembler for the
// compiled form.
package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/mna/lotus/lang/scanner"
	"github.com/mna/lotus/lang/token"
	"github.com/mna/lotus/lang/types"
)

// ErrCompile is returned by Compile when one or more compile errors were
// reported. The individual messages have already been written to the
// diagnostic writer.
var ErrCompile = errors.New("compile error")

const (
	maxLocals    = 256 // one-byte slot operands
	maxUpvalues  = 256
	maxConstants = 256
	maxJump      = math.MaxUint16
	maxArgs      = 255
)

// Compile scans and compiles source in a single pass, returning the
// top-level script function. Every allocated object (interned strings,
// functions) goes to heap, which must be the same heap later used to run
// the program. Diagnostics are written to errw (os.Stderr if nil), one line
// per error.
func Compile(src []byte, heap *types.Heap, errw io.Writer) (*types.Function, error) {
	if errw == nil {
		errw = os.Stderr
	}
	p := &parser{heap: heap, errw: errw}
	p.sc.Init(src)

	c := newFuncCompiler(p, nil, kindScript)
	p.advance()
	for !p.match(token.EOF) {
		c.declaration()
	}
	fn := c.end()
	if p.hadError {
		return nil, ErrCompile
	}
	return fn, nil
}

type funcKind int

const (
	kindScript funcKind = iota
	kindFunction
)

// parser is the scanner-side state shared by all nested function
// compilations: the two-token lookahead window and the error flags.
type parser struct {
	sc   scanner.Scanner
	heap *types.Heap
	errw io.Writer

	current  token.Token
	previous token.Token

	hadError  bool
	panicMode bool
}

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.sc.Scan()
		if p.current.Kind != token.ILLEGAL {
			return
		}
		// scan errors carry their message as the lexeme
		p.errorAtCurrent(p.current.Text())
	}
}

func (p *parser) consume(k token.Kind, msg string) {
	if p.current.Kind == k {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

func (p *parser) check(k token.Kind) bool { return p.current.Kind == k }

func (p *parser) match(k token.Kind) bool {
	if !p.check(k) {
		return false
	}
	p.advance()
	return true
}

func (p *parser) errorAtCurrent(msg string) { p.errorAt(p.current, msg) }
func (p *parser) error(msg string)          { p.errorAt(p.previous, msg) }

func (p *parser) errorAt(tok token.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	fmt.Fprintf(p.errw, "[line %d] Error", tok.Line)
	switch tok.Kind {
	case token.EOF:
		fmt.Fprint(p.errw, " at end")
	case token.ILLEGAL:
		// the lexeme is the scan error message, not source text
	default:
		fmt.Fprintf(p.errw, " at '%s'", tok.Text())
	}
	fmt.Fprintf(p.errw, ": %s\n", msg)
	p.hadError = true
}

// synchronize skips tokens until a likely statement boundary, then resumes
// normal parsing. It deliberately does not advance when the current token
// already starts a statement.
func (p *parser) synchronize() {
	p.panicMode = false
	for p.current.Kind != token.EOF {
		if p.previous.Kind == token.SEMI {
			return
		}
		switch p.current.Kind {
		case token.CLASS, token.FUN, token.VAR, token.FOR,
			token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		p.advance()
	}
}

type local struct {
	name       token.Token
	depth      int // -1 while declared but not yet initialized
	isCaptured bool
}

type upvalue struct {
	index   byte
	isLocal bool
}

// A funcCompiler compiles one function body; nested function declarations
// chain compilers through enclosing. Slot 0 of every frame is reserved for
// the callee.
type funcCompiler struct {
	p         *parser
	enclosing *funcCompiler
	fn        *types.Function
	kind      funcKind

	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalue
	scopeDepth int
}

func newFuncCompiler(p *parser, enclosing *funcCompiler, kind funcKind) *funcCompiler {
	c := &funcCompiler{p: p, enclosing: enclosing, fn: p.heap.NewFunction(), kind: kind}
	if kind != kindScript {
		c.fn.Name = p.heap.Intern(p.previous.Text())
	}
	// slot 0 holds the callee at runtime
	c.locals[0] = local{depth: 0}
	c.localCount = 1
	return c
}

func (c *funcCompiler) chunk() *types.Chunk { return &c.fn.Chunk }

func (c *funcCompiler) end() *types.Function {
	c.emitReturn()
	return c.fn
}

// ---- emission ----

func (c *funcCompiler) emitByte(b byte) { c.chunk().Write(b, c.p.previous.Line) }
func (c *funcCompiler) emitOp(op Opcode) { c.emitByte(byte(op)) }

func (c *funcCompiler) emitOps(op Opcode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *funcCompiler) emitReturn() {
	c.emitOp(NIL)
	c.emitOp(RETURN)
}

func (c *funcCompiler) makeConstant(v types.Value) byte {
	idx := c.chunk().AddConstant(v)
	if idx >= maxConstants {
		c.p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *funcCompiler) emitConstant(v types.Value) {
	c.emitOps(CONSTANT, c.makeConstant(v))
}

// emitJump emits op with a two-byte placeholder operand and returns the
// offset of the placeholder for patchJump.
func (c *funcCompiler) emitJump(op Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.chunk().Count() - 2
}

func (c *funcCompiler) patchJump(offset int) {
	// -2 to step over the operand bytes themselves
	jump := c.chunk().Count() - offset - 2
	if jump > maxJump {
		c.p.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte(jump >> 8)
	c.chunk().Code[offset+1] = byte(jump)
}

func (c *funcCompiler) emitLoop(loopStart int) {
	c.emitOp(LOOP)
	// +2 to step over the operand of the LOOP instruction itself
	offset := c.chunk().Count() - loopStart + 2
	if offset > maxJump {
		c.p.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---- declarations and statements ----

func (c *funcCompiler) declaration() {
	switch {
	case c.p.match(token.FUN):
		c.funDeclaration()
	case c.p.match(token.VAR):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.p.panicMode {
		c.p.synchronize()
	}
}

func (c *funcCompiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.p.match(token.EQ) {
		c.expression()
	} else {
		c.emitOp(NIL)
	}
	c.p.consume(token.SEMI, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *funcCompiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// initialized immediately so the body may refer to itself
	c.markInitialized()
	c.function(kindFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body in a child compiler and emits
// the CLOSURE instruction with its upvalue descriptor pairs.
func (c *funcCompiler) function(kind funcKind) {
	fc := newFuncCompiler(c.p, c, kind)
	fc.beginScope()

	fc.p.consume(token.LPAREN, "Expect '(' after function name.")
	if !fc.p.check(token.RPAREN) {
		for {
			fc.fn.Arity++
			if fc.fn.Arity > maxArgs {
				fc.p.errorAtCurrent("Cannot have more than 255 parameters.")
			}
			param := fc.parseVariable("Expect parameter name.")
			fc.defineVariable(param)
			if !fc.p.match(token.COMMA) {
				break
			}
		}
	}
	fc.p.consume(token.RPAREN, "Expect ')' after parameters.")
	fc.p.consume(token.LBRACE, "Expect '{' before function body.")
	fc.block()

	fn := fc.end()
	c.emitOps(CLOSURE, c.makeConstant(fn))
	for i := 0; i < fn.UpvalueCount; i++ {
		uv := fc.upvalues[i]
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *funcCompiler) statement() {
	switch {
	case c.p.match(token.PRINT):
		c.printStatement()
	case c.p.match(token.IF):
		c.ifStatement()
	case c.p.match(token.WHILE):
		c.whileStatement()
	case c.p.match(token.FOR):
		c.forStatement()
	case c.p.match(token.RETURN):
		c.returnStatement()
	case c.p.match(token.LBRACE):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *funcCompiler) printStatement() {
	c.expression()
	c.p.consume(token.SEMI, "Expect ';' after value.")
	c.emitOp(PRINT)
}

func (c *funcCompiler) expressionStatement() {
	c.expression()
	c.p.consume(token.SEMI, "Expect ';' after expression.")
	c.emitOp(POP)
}

func (c *funcCompiler) block() {
	for !c.p.check(token.RBRACE) && !c.p.check(token.EOF) {
		c.declaration()
	}
	c.p.consume(token.RBRACE, "Expect '}' after block.")
}

func (c *funcCompiler) ifStatement() {
	c.p.consume(token.LPAREN, "Expect '(' after 'if'.")
	c.expression()
	c.p.consume(token.RPAREN, "Expect ')' after condition.")

	// the condition stays on the stack through the jump, both branches pop it
	thenJump := c.emitJump(JUMPIFFALSE)
	c.emitOp(POP)
	c.statement()
	elseJump := c.emitJump(JUMP)

	c.patchJump(thenJump)
	c.emitOp(POP)
	if c.p.match(token.ELSE) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *funcCompiler) whileStatement() {
	loopStart := c.chunk().Count()
	c.p.consume(token.LPAREN, "Expect '(' after 'while'.")
	c.expression()
	c.p.consume(token.RPAREN, "Expect ')' after condition.")

	exitJump := c.emitJump(JUMPIFFALSE)
	c.emitOp(POP)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(POP)
}

// forStatement desugars for(init; cond; incr) into a while-shaped loop with
// a private scope. The increment clause is compiled after the body, with a
// jump over it on loop entry so it only runs between iterations.
func (c *funcCompiler) forStatement() {
	c.beginScope()
	c.p.consume(token.LPAREN, "Expect '(' after 'for'.")
	switch {
	case c.p.match(token.SEMI):
		// no initializer
	case c.p.match(token.VAR):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := c.chunk().Count()
	exitJump := -1
	if !c.p.match(token.SEMI) {
		c.expression()
		c.p.consume(token.SEMI, "Expect ';' after loop condition.")
		exitJump = c.emitJump(JUMPIFFALSE)
		c.emitOp(POP)
	}

	if !c.p.match(token.RPAREN) {
		bodyJump := c.emitJump(JUMP)
		incrementStart := c.chunk().Count()
		c.expression()
		c.emitOp(POP)
		c.p.consume(token.RPAREN, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(POP)
	}
	c.endScope()
}

func (c *funcCompiler) returnStatement() {
	if c.kind == kindScript {
		c.p.error("Cannot return from top-level code.")
	}
	if c.p.match(token.SEMI) {
		c.emitReturn()
		return
	}
	c.expression()
	c.p.consume(token.SEMI, "Expect ';' after return value.")
	c.emitOp(RETURN)
}

// ---- scopes and variables ----

func (c *funcCompiler) beginScope() { c.scopeDepth++ }

func (c *funcCompiler) endScope() {
	c.scopeDepth--
	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].isCaptured {
			c.emitOp(CLOSEUPVALUE)
		} else {
			c.emitOp(POP)
		}
		c.localCount--
	}
}

func (c *funcCompiler) parseVariable(msg string) byte {
	c.p.consume(token.IDENT, msg)
	c.declareVariable()
	if c.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.p.previous)
}

func (c *funcCompiler) identifierConstant(name token.Token) byte {
	return c.makeConstant(c.p.heap.Intern(name.Text()))
}

func identifiersEqual(a, b token.Token) bool {
	return bytes.Equal(a.Lexeme, b.Lexeme)
}

func (c *funcCompiler) declareVariable() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.p.previous
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			c.p.error("Variable with this name already declared in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *funcCompiler) addLocal(name token.Token) {
	if c.localCount == maxLocals {
		c.p.error("Too many local variables in function.")
		return
	}
	c.locals[c.localCount] = local{name: name, depth: -1}
	c.localCount++
}

func (c *funcCompiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.localCount-1].depth = c.scopeDepth
}

func (c *funcCompiler) defineVariable(global byte) {
	if c.scopeDepth > 0 {
		// the initializer value already sits in the local's stack slot
		c.markInitialized()
		return
	}
	c.emitOps(DEFINEGLOBAL, global)
}

func (c *funcCompiler) resolveLocal(name token.Token) int {
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if identifiersEqual(name, l.name) {
			if l.depth == -1 {
				c.p.error("Cannot read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue resolves name in the enclosing compilers, threading a chain
// of upvalues down to this function and marking the captured local so that
// its scope exit emits CLOSEUPVALUE instead of POP.
func (c *funcCompiler) resolveUpvalue(name token.Token) int {
	if c.enclosing == nil {
		return -1
	}
	if lo := c.enclosing.resolveLocal(name); lo != -1 {
		c.enclosing.locals[lo].isCaptured = true
		return c.addUpvalue(byte(lo), true)
	}
	if up := c.enclosing.resolveUpvalue(name); up != -1 {
		return c.addUpvalue(byte(up), false)
	}
	return -1
}

func (c *funcCompiler) addUpvalue(index byte, isLocal bool) int {
	n := c.fn.UpvalueCount
	for i := 0; i < n; i++ {
		if uv := c.upvalues[i]; uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if n == maxUpvalues {
		c.p.error("Too many closure variables in function.")
		return 0
	}
	c.upvalues[n] = upvalue{index: index, isLocal: isLocal}
	c.fn.UpvalueCount++
	return n
}

// ---- expressions (Pratt) ----

type precedence int8

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

// infixPrec returns the infix binding power of a token kind, precNone if the
// kind has no infix rule.
func infixPrec(k token.Kind) precedence {
	switch k {
	case token.OR:
		return precOr
	case token.AND:
		return precAnd
	case token.EQL, token.NEQ:
		return precEquality
	case token.GT, token.GE, token.LT, token.LE:
		return precComparison
	case token.PLUS, token.MINUS:
		return precTerm
	case token.STAR, token.SLASH:
		return precFactor
	case token.LPAREN:
		return precCall
	}
	return precNone
}

func (c *funcCompiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *funcCompiler) parsePrecedence(prec precedence) {
	c.p.advance()
	canAssign := prec <= precAssignment
	if !c.prefix(c.p.previous.Kind, canAssign) {
		c.p.error("Expect expression.")
		return
	}
	for prec <= infixPrec(c.p.current.Kind) {
		c.p.advance()
		c.infix(c.p.previous.Kind)
	}
	if canAssign && c.p.match(token.EQ) {
		c.p.error("Invalid assignment target.")
	}
}

// prefix dispatches the prefix rule for a token kind, reporting whether one
// exists.
func (c *funcCompiler) prefix(k token.Kind, canAssign bool) bool {
	switch k {
	case token.LPAREN:
		c.grouping()
	case token.MINUS, token.BANG:
		c.unary(k)
	case token.NUMBER:
		c.number()
	case token.STRING:
		c.stringLit()
	case token.IDENT:
		c.variable(canAssign)
	case token.NIL:
		c.emitOp(NIL)
	case token.TRUE:
		c.emitOp(TRUE)
	case token.FALSE:
		c.emitOp(FALSE)
	default:
		return false
	}
	return true
}

// infix dispatches the infix rule for a token kind; callers only invoke it
// for kinds with a non-None infix precedence.
func (c *funcCompiler) infix(k token.Kind) {
	switch k {
	case token.LPAREN:
		c.call()
	case token.AND:
		c.and()
	case token.OR:
		c.or()
	default:
		c.binary(k)
	}
}

func (c *funcCompiler) grouping() {
	c.expression()
	c.p.consume(token.RPAREN, "Expect ')' after expression.")
}

func (c *funcCompiler) unary(op token.Kind) {
	c.parsePrecedence(precUnary)
	switch op {
	case token.MINUS:
		c.emitOp(NEGATE)
	case token.BANG:
		c.emitOp(NOT)
	}
}

func (c *funcCompiler) binary(op token.Kind) {
	// left-associative: parse the right operand one level tighter
	c.parsePrecedence(infixPrec(op) + 1)
	switch op {
	case token.PLUS:
		c.emitOp(ADD)
	case token.MINUS:
		c.emitOp(SUBTRACT)
	case token.STAR:
		c.emitOp(MULTIPLY)
	case token.SLASH:
		c.emitOp(DIVIDE)
	case token.EQL:
		c.emitOp(EQUAL)
	case token.NEQ:
		c.emitOp(EQUAL)
		c.emitOp(NOT)
	case token.GT:
		c.emitOp(GREATER)
	case token.GE:
		c.emitOp(LESS)
		c.emitOp(NOT)
	case token.LT:
		c.emitOp(LESS)
	case token.LE:
		c.emitOp(GREATER)
		c.emitOp(NOT)
	}
}

func (c *funcCompiler) number() {
	n, err := strconv.ParseFloat(c.p.previous.Text(), 64)
	if err != nil {
		c.p.error("Invalid number literal.")
		return
	}
	c.emitConstant(types.Number(n))
}

func (c *funcCompiler) stringLit() {
	lex := c.p.previous.Lexeme
	// strip the surrounding quotes
	c.emitConstant(c.p.heap.Intern(string(lex[1 : len(lex)-1])))
}

func (c *funcCompiler) variable(canAssign bool) {
	c.namedVariable(c.p.previous, canAssign)
}

// namedVariable resolves an identifier use as a local, an upvalue or a
// global, in that order, and emits the get or set instruction.
func (c *funcCompiler) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp Opcode
	arg := c.resolveLocal(name)
	switch {
	case arg != -1:
		getOp, setOp = GETLOCAL, SETLOCAL
	default:
		if arg = c.resolveUpvalue(name); arg != -1 {
			getOp, setOp = GETUPVALUE, SETUPVALUE
		} else {
			arg = int(c.identifierConstant(name))
			getOp, setOp = GETGLOBAL, SETGLOBAL
		}
	}

	if canAssign && c.p.match(token.EQ) {
		c.expression()
		c.emitOps(setOp, byte(arg))
	} else {
		c.emitOps(getOp, byte(arg))
	}
}

func (c *funcCompiler) and() {
	end := c.emitJump(JUMPIFFALSE)
	c.emitOp(POP)
	c.parsePrecedence(precAnd)
	c.patchJump(end)
}

func (c *funcCompiler) or() {
	elseJump := c.emitJump(JUMPIFFALSE)
	endJump := c.emitJump(JUMP)
	c.patchJump(elseJump)
	c.emitOp(POP)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *funcCompiler) call() {
	argc := c.argumentList()
	c.emitOps(CALL, argc)
}

func (c *funcCompiler) argumentList() byte {
	var count int
	if !c.p.check(token.RPAREN) {
		for {
			c.expression()
			if count == maxArgs {
				c.p.error("Cannot have more than 255 arguments.")
			}
			count++
			if !c.p.match(token.COMMA) {
				break
			}
		}
	}
	c.p.consume(token.RPAREN, "Expect ')' after arguments.")
	return byte(count)
}
