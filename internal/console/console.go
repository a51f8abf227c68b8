// Package console runs the line-oriented operator surface spec §6
// requires (`status`, `neighbors`, `send <addr> <msg>`, ...): a
// bufio.Scanner reading newline-delimited commands and handing each to
// the engine's own command dispatcher, grounded on the
// scanner.Scan()-loop style the pack uses for line/message-delimited
// control streams.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Executor is the narrow engine contract console needs: submit one
// line, get back its output or error (internal/engine.Engine.SubmitCommand
// satisfies this directly).
type Executor interface {
	SubmitCommand(line string) (string, error)
}

// Console reads commands from r and writes prompts/output to w, handing
// each non-blank line to an Executor. It never touches engine state
// directly: every command crosses the same SubmitCommand boundary a
// remote operator link would use (spec §6, §4.8).
type Console struct {
	exec   Executor
	in     io.Reader
	out    io.Writer
	log    zerolog.Logger
	prompt string
}

// New builds a Console. prompt is printed before reading each line
// (a REPL run against a pipe or test buffer can pass "" to suppress it).
func New(exec Executor, in io.Reader, out io.Writer, log zerolog.Logger) *Console {
	return &Console{exec: exec, in: in, out: out, log: log, prompt: "mesh> "}
}

// SetPrompt overrides the default prompt string.
func (c *Console) SetPrompt(p string) { c.prompt = p }

// Run reads lines from c.in until EOF or the scanner errors, dispatching
// each to the Executor and writing its result to c.out. Run blocks for
// the console's lifetime; cmd/meshd runs it in its own goroutine and
// relies on closing c.in (or process exit) to end it.
func (c *Console) Run() error {
	scanner := bufio.NewScanner(c.in)
	for {
		if c.prompt != "" {
			fmt.Fprint(c.out, c.prompt)
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.dispatch(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("console: read: %w", err)
	}
	return nil
}

// dispatch prints the command's output verbatim (status/neighbors/routes
// and the action commands all already produce a one-line or multi-line
// human-readable result), falling back to a bare OK only when a command
// succeeded with nothing to say, and a one-line ERR on failure (spec
// §6: "commands print OK or a one-line error on failure").
func (c *Console) dispatch(line string) {
	out, err := c.exec.SubmitCommand(line)
	if err != nil {
		fmt.Fprintf(c.out, "ERR %s\n", err)
		c.log.Debug().Str("command", line).Err(err).Msg("console command failed")
		return
	}
	if out == "" {
		out = "OK"
	}
	fmt.Fprintln(c.out, out)
}
