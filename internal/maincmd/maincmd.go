// Package maincmd implements the lotus command-line tool: a REPL when run
// without argument, a file interpreter when given a path, plus flags to
// inspect the token stream and the compiled bytecode.
package maincmd

import (
	"fmt"

	"github.com/mna/mainer"
)

const binName = "lotus"

// Exit codes follow the BSD sysexits convention.
const (
	exitUsage   = mainer.ExitCode(64)
	exitCompile = mainer.ExitCode(65)
	exitRuntime = mainer.ExitCode(70)
	exitIO      = mainer.ExitCode(74)
)

var (
	shortUsage = fmt.Sprintf("Usage: %s [path]\n", binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] [<path>]
       %[1]s -h|--help
       %[1]s -v|--version

Bytecode compiler and virtual machine for the Lox programming language.
Without a <path>, an interactive session is started; with one, the file is
compiled and run.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --tokenize                Print the token stream instead of running.
       --disasm                  Print the compiled bytecode instead of
                                 running.
       --trace                   Write an execution trace to stderr while
                                 running.
`, binName)
)

// Cmd is the parsed command-line invocation.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	Tokenize bool `flag:"tokenize"`
	Disasm   bool `flag:"disasm"`
	Trace    bool `flag:"trace"`

	args []string
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) Validate() error {
	// arity errors are handled in Main so they exit with the usage code
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return exitUsage
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	switch len(c.args) {
	case 0:
		return c.repl(stdio)
	case 1:
		return c.runFile(stdio, c.args[0])
	default:
		fmt.Fprint(stdio.Stderr, shortUsage)
		return exitUsage
	}
}
