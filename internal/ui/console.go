// Package ui renders the extension's user surfaces on a line-oriented
// terminal: input boxes, notifications, the status item and progress.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// InputOptions describes one input box.
type InputOptions struct {
	Title       string
	Prompt      string
	Value       string // pre-filled; an empty answer keeps it
	Placeholder string
	Password    bool
	// Validate returns a message for invalid input, or "" to accept.
	Validate func(value string) string
}

// Console is a terminal user interface bound to an input and an output.
type Console struct {
	mu  sync.Mutex // one prompt at a time
	out io.Writer

	lines chan lineResult
	once  sync.Once
	in    *bufio.Reader

	fd         int
	isTerminal bool
	// noEcho hides typed input on the terminal until the returned func runs.
	noEcho func(fd int) (restore func() error, err error)
}

type lineResult struct {
	line string
	err  error
}

// NewConsole creates a console reading from in and writing to out. When in
// is a terminal, password input is read without echo.
//
// All input, secret or not, goes through one reader so a line typed at any
// prompt reaches that prompt.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{
		out:    out,
		in:     bufio.NewReader(in),
		fd:     -1,
		noEcho: disableEcho,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.isTerminal = true
	}
	return c
}

// Stdio returns a console on the process's standard streams.
func Stdio() *Console {
	return NewConsole(os.Stdin, os.Stderr)
}

// InputBox asks for a value. ok is false when the box is dismissed: end of
// input, or ctx cancelled.
func (c *Console) InputBox(ctx context.Context, opts InputOptions) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.Title != "" {
		fmt.Fprintln(c.out, opts.Title)
	}
	secret := opts.Password && c.isTerminal
	for {
		fmt.Fprint(c.out, c.label(opts))

		var (
			answer string
			err    error
		)
		if secret {
			answer, err = c.readSecret(ctx)
		} else {
			answer, err = c.readLine(ctx)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) || answer == "" {
				if !secret {
					fmt.Fprintln(c.out)
				}
				return "", false
			}
		}

		if answer == "" && opts.Value != "" {
			answer = opts.Value
		}
		if opts.Validate != nil {
			if msg := opts.Validate(answer); msg != "" {
				fmt.Fprintf(c.out, "  %s\n", msg)
				if err != nil {
					return "", false
				}
				continue
			}
		}
		return answer, true
	}
}

func (c *Console) label(opts InputOptions) string {
	var b strings.Builder
	b.WriteString(opts.Prompt)
	switch {
	case opts.Value != "" && !opts.Password:
		fmt.Fprintf(&b, " [%s]", opts.Value)
	case opts.Placeholder != "":
		fmt.Fprintf(&b, " (%s)", opts.Placeholder)
	}
	b.WriteString(": ")
	return b.String()
}

// readLine returns the next input line without its terminator. A final
// unterminated line is returned together with io.EOF.
func (c *Console) readLine(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.lines = make(chan lineResult)
		go c.pump()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return r.line, r.err
	}
}

// pump feeds lines to readLine so a pending read can be abandoned on
// cancellation without losing later input.
func (c *Console) pump() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil {
			if line != "" {
				c.lines <- lineResult{line: line, err: io.EOF}
			}
			return
		}
		c.lines <- lineResult{line: line}
	}
}

// readSecret reads one line with echo off. Echo comes back on every exit,
// including cancellation while the read is pending.
func (c *Console) readSecret(ctx context.Context) (string, error) {
	restore, err := c.noEcho(c.fd)
	if err != nil {
		return "", fmt.Errorf("hide input: %w", err)
	}
	defer func() {
		_ = restore()
		// The user's Enter was not echoed.
		fmt.Fprintln(c.out)
	}()
	return c.readLine(ctx)
}

// Info shows an informational notification.
func (c *Console) Info(msg string) {
	fmt.Fprintf(c.out, "info: %s\n", msg)
}

// Error shows an error notification.
func (c *Console) Error(msg string) {
	fmt.Fprintf(c.out, "error: %s\n", msg)
}
