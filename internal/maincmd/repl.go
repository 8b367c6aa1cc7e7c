package maincmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/mna/lotus/lang/compiler"
	"github.com/mna/lotus/lang/machine"
	"github.com/mna/lotus/lang/types"
	"github.com/mna/mainer"
)

// repl runs the interactive session: one heap and one machine for its whole
// lifetime, so globals and interned strings persist across lines, and both
// compile and runtime errors leave the session usable.
func (c *Cmd) repl(stdio mainer.Stdio) mainer.ExitCode {
	heap := types.NewHeap()
	vm := machine.New(heap)
	vm.Stdout = stdio.Stdout
	vm.Stderr = stdio.Stderr
	if c.Trace {
		vm.Trace = stdio.Stderr
	}

	interpretLine := func(line string) {
		if c.Tokenize {
			tokenize(stdio, []byte(line))
			return
		}
		fn, err := compiler.Compile([]byte(line), heap, stdio.Stderr)
		if err != nil {
			return
		}
		if c.Disasm {
			compiler.DisassembleFunction(stdio.Stdout, fn)
			return
		}
		_ = vm.Interpret(fn) // diagnostics already written
	}

	if f, ok := stdio.Stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return editingREPL(stdio, interpretLine)
	}
	return plainREPL(stdio, interpretLine)
}

// editingREPL reads lines with history and editing support when stdin is a
// terminal.
func editingREPL(stdio mainer.Stdio, interpretLine func(string)) mainer.ExitCode {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "> ",
		Stdout: stdio.Stdout,
		Stderr: stdio.Stderr,
	})
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.Failure
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case err != nil:
			return mainer.Success
		}
		interpretLine(line)
	}
}

// plainREPL reads lines without editing, for piped input.
func plainREPL(stdio mainer.Stdio, interpretLine func(string)) mainer.ExitCode {
	sc := bufio.NewScanner(stdio.Stdin)
	for {
		fmt.Fprint(stdio.Stdout, "> ")
		if !sc.Scan() {
			break
		}
		interpretLine(sc.Text())
	}
	fmt.Fprintln(stdio.Stdout)
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.Failure
	}
	return mainer.Success
}
