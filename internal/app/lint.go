package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/qualimetry/ansible-analyzer/internal/activation"
	"github.com/qualimetry/ansible-analyzer/internal/lsp"
)

// DefaultLintTimeout bounds how long Lint waits for a file's diagnostics.
const DefaultLintTimeout = 30 * time.Second

// documentClient is the part of the language client Lint drives.
type documentClient interface {
	OpenDocument(ctx context.Context, path, content string) error
	CloseDocument(ctx context.Context, path string) error
	OnDiagnostics(handler func(lsp.PublishDiagnosticsParams))
}

// LintReport is the outcome of a Lint call.
type LintReport struct {
	// Diagnostics per analysed file.
	Files map[string][]lsp.Diagnostic

	// Skipped lists files the server does not analyse.
	Skipped []string

	// TimedOut lists files that got no diagnostics in time.
	TimedOut []string
}

// Problems counts the diagnostics across all files.
func (r LintReport) Problems() int {
	n := 0
	for _, d := range r.Files {
		n += len(d)
	}
	return n
}

// Exit statuses reported by ExitCode.
const (
	LintClean      = 0
	LintProblems   = 2
	LintIncomplete = 3
)

// ExitCode maps the report to a process exit status. A file that was never
// analysed outranks problems found in the others.
func (r LintReport) ExitCode() int {
	switch {
	case len(r.TimedOut) > 0:
		return LintIncomplete
	case r.Problems() > 0:
		return LintProblems
	default:
		return LintClean
	}
}

// Lint activates the server, opens each file and prints the diagnostics
// the server publishes for it to w as "path:line:col: severity: message".
func (app *Application) Lint(ctx context.Context, files []string, w io.Writer, timeout time.Duration) (LintReport, error) {
	report := LintReport{Files: make(map[string][]lsp.Diagnostic)}
	if timeout <= 0 {
		timeout = DefaultLintTimeout
	}

	switch app.Activate(ctx) {
	case activation.StateRunning:
	case activation.StateFailed:
		return report, app.activationError()
	default:
		return report, ErrNotRunning
	}

	client, ok := app.controller.Client().(documentClient)
	if !ok {
		return report, ErrNotRunning
	}

	waiter := newDiagnosticWaiter()
	client.OnDiagnostics(waiter.publish)

	for _, file := range files {
		path, err := filepath.Abs(file)
		if err != nil {
			return report, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return report, &FileError{Op: "read", File: file, Err: err}
		}

		ch := waiter.expect(lsp.FilePathToURI(path))
		if err := client.OpenDocument(ctx, path, string(content)); err != nil {
			waiter.forget(lsp.FilePathToURI(path))
			if errors.Is(err, lsp.ErrNotSelected) {
				app.log.Debug("skipping %s: not an analysed file", file)
				report.Skipped = append(report.Skipped, file)
				continue
			}
			return report, &FileError{Op: "open", File: file, Err: err}
		}

		select {
		case diags := <-ch:
			report.Files[file] = diags
			printDiagnostics(w, file, diags)
		case <-time.After(timeout):
			app.log.Warn("no diagnostics for %s after %s", file, timeout)
			report.TimedOut = append(report.TimedOut, file)
		case <-ctx.Done():
			waiter.forget(lsp.FilePathToURI(path))
			return report, ctx.Err()
		}
		waiter.forget(lsp.FilePathToURI(path))

		if err := client.CloseDocument(ctx, path); err != nil {
			app.log.Debug("close %s: %v", file, err)
		}
	}
	return report, nil
}

func printDiagnostics(w io.Writer, file string, diags []lsp.Diagnostic) {
	sorted := append([]lsp.Diagnostic(nil), diags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Range.Start, sorted[j].Range.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	for _, d := range sorted {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n",
			file, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
	}
}

// diagnosticWaiter hands the first publish for a URI to whoever expects it.
type diagnosticWaiter struct {
	mu      sync.Mutex
	pending map[lsp.DocumentURI]chan []lsp.Diagnostic
}

func newDiagnosticWaiter() *diagnosticWaiter {
	return &diagnosticWaiter{pending: make(map[lsp.DocumentURI]chan []lsp.Diagnostic)}
}

func (d *diagnosticWaiter) expect(uri lsp.DocumentURI) <-chan []lsp.Diagnostic {
	ch := make(chan []lsp.Diagnostic, 1)
	d.mu.Lock()
	d.pending[uri] = ch
	d.mu.Unlock()
	return ch
}

func (d *diagnosticWaiter) forget(uri lsp.DocumentURI) {
	d.mu.Lock()
	delete(d.pending, uri)
	d.mu.Unlock()
}

func (d *diagnosticWaiter) publish(p lsp.PublishDiagnosticsParams) {
	d.mu.Lock()
	ch, ok := d.pending[p.URI]
	delete(d.pending, p.URI)
	d.mu.Unlock()
	if ok {
		ch <- p.Diagnostics
	}
}
