package ui

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Notifier shows one-line notifications to the user.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

var iconPattern = regexp.MustCompile(`\$\([a-z-]+\)\s*`)

// StatusItem is a persistent indicator. Icon references such as
// "$(checklist)" are dropped when rendered to plain text.
type StatusItem struct {
	mu       sync.Mutex
	out      io.Writer
	text     string
	tooltip  string
	visible  bool
	disposed bool
}

// NewStatusItem creates a hidden status item.
func NewStatusItem(out io.Writer, text, tooltip string) *StatusItem {
	return &StatusItem{out: out, text: text, tooltip: tooltip}
}

// Text returns the item's text including icon references.
func (s *StatusItem) Text() string {
	return s.text
}

// Visible reports whether the item is shown.
func (s *StatusItem) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Show displays the item.
func (s *StatusItem) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible || s.disposed {
		return
	}
	s.visible = true
	line := "[" + renderIcons(s.text) + "]"
	if s.tooltip != "" {
		line += " " + s.tooltip
	}
	fmt.Fprintln(s.out, line)
}

// Dispose hides the item for good.
func (s *StatusItem) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = false
	s.disposed = true
}

func renderIcons(text string) string {
	return strings.TrimSpace(iconPattern.ReplaceAllString(text, ""))
}

// Progress runs tasks while showing a titled progress indicator.
type Progress struct {
	out io.Writer
	now func() time.Time
}

// NewProgress creates a progress reporter writing to out.
func NewProgress(out io.Writer) *Progress {
	return &Progress{out: out, now: time.Now}
}

// Run executes task under a context that is not cancelled with ctx: the
// user cannot abort a task once it started. Values of ctx remain visible.
func (p *Progress) Run(ctx context.Context, title string, task func(ctx context.Context) error) error {
	fmt.Fprintf(p.out, "%s...\n", title)
	start := p.now()
	err := task(context.WithoutCancel(ctx))
	fmt.Fprintf(p.out, "%s: done in %s\n", title, p.now().Sub(start).Round(time.Millisecond))
	return err
}
