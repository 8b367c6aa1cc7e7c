package maincmd

import (
	"fmt"
	"os"

	"github.com/mna/lotus/lang/compiler"
	"github.com/mna/lotus/lang/machine"
	"github.com/mna/lotus/lang/scanner"
	"github.com/mna/lotus/lang/token"
	"github.com/mna/lotus/lang/types"
	"github.com/mna/mainer"
)

func (c *Cmd) runFile(stdio mainer.Stdio, path string) mainer.ExitCode {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "could not read %s: %s\n", path, err)
		return exitIO
	}

	if c.Tokenize {
		tokenize(stdio, src)
		return mainer.Success
	}

	heap := types.NewHeap()
	fn, err := compiler.Compile(src, heap, stdio.Stderr)
	if err != nil {
		return exitCompile
	}

	if c.Disasm {
		compiler.DisassembleFunction(stdio.Stdout, fn)
		return mainer.Success
	}

	vm := machine.New(heap)
	vm.Stdout = stdio.Stdout
	vm.Stderr = stdio.Stderr
	if c.Trace {
		vm.Trace = stdio.Stderr
	}
	if err := vm.Interpret(fn); err != nil {
		return exitRuntime
	}
	return mainer.Success
}

// tokenize prints the token stream of src, one token per line.
func tokenize(stdio mainer.Stdio, src []byte) {
	var s scanner.Scanner
	s.Init(src)
	for {
		tok := s.Scan()
		fmt.Fprintf(stdio.Stdout, "%4d %-10s", tok.Line, tok.Kind)
		switch tok.Kind {
		case token.IDENT, token.NUMBER, token.STRING, token.ILLEGAL:
			fmt.Fprintf(stdio.Stdout, " %s", tok.Text())
		}
		fmt.Fprintln(stdio.Stdout)
		if tok.Kind == token.EOF {
			return
		}
	}
}
