// Package ui provides terminal output helpers for the extractflow CLI.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Options configures a UI.
type Options struct {
	Out     io.Writer
	ErrOut  io.Writer
	In      io.Reader
	NoColor bool
	Verbose bool
	// Interactive enables spinners and progress bars. Defaults to IsTerminal().
	Interactive *bool
}

// UI writes user-facing output. Logs go elsewhere.
type UI struct {
	out         io.Writer
	errOut      io.Writer
	in          io.Reader
	noColor     bool
	verbose     bool
	interactive bool
}

// New creates a UI. Colour is disabled when output is not a terminal.
func New(opts Options) *UI {
	u := &UI{
		out:     opts.Out,
		errOut:  opts.ErrOut,
		in:      opts.In,
		noColor: opts.NoColor,
		verbose: opts.Verbose,
	}
	if u.out == nil {
		u.out = os.Stdout
	}
	if u.errOut == nil {
		u.errOut = os.Stderr
	}
	if u.in == nil {
		u.in = os.Stdin
	}

	if opts.Interactive != nil {
		u.interactive = *opts.Interactive
	} else {
		u.interactive = IsTerminal()
	}
	if !u.interactive {
		u.noColor = true
	}
	if u.noColor {
		color.NoColor = true
	}
	return u
}

// Plain returns a non-interactive, colourless UI writing to out. Used by tests.
func Plain(out io.Writer, in io.Reader) *UI {
	interactive := false
	return New(Options{Out: out, ErrOut: out, In: in, NoColor: true, Interactive: &interactive})
}

// Out returns the output writer.
func (u *UI) Out() io.Writer { return u.out }

// In returns the input reader.
func (u *UI) In() io.Reader { return u.in }

// Interactive reports whether progress widgets are rendered.
func (u *UI) Interactive() bool { return u.interactive }

// Verbose reports whether verbose output was requested.
func (u *UI) Verbose() bool { return u.verbose }

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func (u *UI) paint(w io.Writer, attr color.Attribute, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if u.noColor {
		fmt.Fprintln(w, msg)
		return
	}
	c := color.New(attr)
	c.Fprintln(w, msg)
}

// Success displays a success message.
func (u *UI) Success(format string, args ...interface{}) {
	u.paint(u.out, color.FgGreen, "✓ "+format, args...)
}

// Error displays an error message.
func (u *UI) Error(format string, args ...interface{}) {
	u.paint(u.errOut, color.FgRed, "✗ "+format, args...)
}

// Warning displays a warning message.
func (u *UI) Warning(format string, args ...interface{}) {
	u.paint(u.out, color.FgYellow, "⚠ "+format, args...)
}

// Info displays an informational message.
func (u *UI) Info(format string, args ...interface{}) {
	u.paint(u.out, color.FgCyan, "ℹ "+format, args...)
}

// Step displays a step indicator message.
func (u *UI) Step(format string, args ...interface{}) {
	u.paint(u.out, color.FgBlue, "→ "+format, args...)
}

// Message displays a plain line.
func (u *UI) Message(format string, args ...interface{}) {
	fmt.Fprintf(u.out, format, args...)
	fmt.Fprintln(u.out)
}

// Debug displays a line only in verbose mode.
func (u *UI) Debug(format string, args ...interface{}) {
	if !u.verbose {
		return
	}
	u.paint(u.out, color.FgHiBlack, format, args...)
}

// Newline prints a newline.
func (u *UI) Newline() {
	fmt.Fprintln(u.out)
}
