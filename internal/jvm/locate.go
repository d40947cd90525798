package jvm

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultLookupTimeout bounds the which/where PATH lookup.
	DefaultLookupTimeout = 5 * time.Second

	// DefaultVersionTimeout bounds `java -version`.
	DefaultVersionTimeout = 10 * time.Second

	versionCacheSize = 32
)

// Candidate is a located Java executable. It is immutable once returned.
type Candidate struct {
	// Path is the absolute or PATH-resolved executable path.
	Path string

	// Version is the effective major version, or 0 when not detected.
	Version int
}

// HasVersion reports whether a version was detected for the candidate.
func (c Candidate) HasVersion() bool {
	return c.Version > 0
}

// Locator resolves Java executables. The zero value is not usable; use New.
type Locator struct {
	goos           string
	getenv         func(string) string
	stat           func(string) (fs.FileInfo, error)
	lookupPath     func(ctx context.Context, command string, args ...string) ([]byte, error)
	runVersion     func(ctx context.Context, exe string) ([]byte, error)
	lookupTimeout  time.Duration
	versionTimeout time.Duration

	versions *lru.Cache[string, cachedVersion]
}

type cachedVersion struct {
	modTime time.Time
	size    int64
	version int
}

// Option configures a Locator.
type Option func(*Locator)

// WithGOOS overrides the platform used for executable naming and PATH lookup.
func WithGOOS(goos string) Option {
	return func(l *Locator) { l.goos = goos }
}

// WithGetenv overrides environment lookup.
func WithGetenv(fn func(string) string) Option {
	return func(l *Locator) { l.getenv = fn }
}

// WithStat overrides the filesystem existence check.
func WithStat(fn func(string) (fs.FileInfo, error)) Option {
	return func(l *Locator) { l.stat = fn }
}

// WithPathLookup overrides how the which/where command is executed.
func WithPathLookup(fn func(ctx context.Context, command string, args ...string) ([]byte, error)) Option {
	return func(l *Locator) { l.lookupPath = fn }
}

// WithVersionRunner overrides how `java -version` is executed. The returned
// bytes must contain combined stdout and stderr.
func WithVersionRunner(fn func(ctx context.Context, exe string) ([]byte, error)) Option {
	return func(l *Locator) { l.runVersion = fn }
}

// WithTimeouts overrides the lookup and version check timeouts.
func WithTimeouts(lookup, version time.Duration) Option {
	return func(l *Locator) {
		if lookup > 0 {
			l.lookupTimeout = lookup
		}
		if version > 0 {
			l.versionTimeout = version
		}
	}
}

// New creates a Locator bound to the real environment unless overridden.
func New(opts ...Option) *Locator {
	l := &Locator{
		goos:           runtime.GOOS,
		getenv:         os.Getenv,
		stat:           os.Stat,
		lookupPath:     runOutput,
		runVersion:     runCombined,
		lookupTimeout:  DefaultLookupTimeout,
		versionTimeout: DefaultVersionTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	// Only fails for a non-positive size.
	l.versions, _ = lru.New[string, cachedVersion](versionCacheSize)
	return l
}

// Locate finds a Java executable. configuredPath is the user's java.home
// setting and may be empty. The boolean is false when nothing was found.
func (l *Locator) Locate(ctx context.Context, configuredPath string) (Candidate, bool) {
	if configuredPath != "" {
		if exe, ok := l.fromHome(configuredPath); ok {
			return Candidate{Path: exe}, true
		}
		if l.isJavaExecutable(configuredPath) {
			return Candidate{Path: configuredPath}, true
		}
	}

	if home := l.getenv("JAVA_HOME"); home != "" {
		if exe, ok := l.fromHome(home); ok {
			return Candidate{Path: exe}, true
		}
	}

	if exe, ok := l.fromPath(ctx); ok {
		return Candidate{Path: exe}, true
	}
	return Candidate{}, false
}

// LocateWithVersion is Locate followed by Version on the found candidate.
func (l *Locator) LocateWithVersion(ctx context.Context, configuredPath string) (Candidate, bool) {
	c, ok := l.Locate(ctx, configuredPath)
	if !ok {
		return c, false
	}
	if v, ok := l.Version(ctx, c.Path); ok {
		c.Version = v
	}
	return c, true
}

func (l *Locator) executableName() string {
	if l.goos == "windows" {
		return "java.exe"
	}
	return "java"
}

func (l *Locator) fromHome(home string) (string, bool) {
	exe := filepath.Join(home, "bin", l.executableName())
	if l.isFile(exe) {
		return exe, true
	}
	return "", false
}

// isJavaExecutable accepts a path that already names java or java.exe.
func (l *Locator) isJavaExecutable(path string) bool {
	base := filepath.Base(path)
	if base != "java" && base != "java.exe" {
		return false
	}
	return l.isFile(path)
}

func (l *Locator) fromPath(ctx context.Context) (string, bool) {
	command := "which"
	if l.goos == "windows" {
		command = "where"
	}

	ctx, cancel := context.WithTimeout(ctx, l.lookupTimeout)
	defer cancel()

	out, err := l.lookupPath(ctx, command, "java")
	if err != nil {
		return "", false
	}

	first := firstLine(string(out))
	if first == "" || !l.isFile(first) {
		return "", false
	}
	return first, true
}

func (l *Locator) isFile(path string) bool {
	info, err := l.stat(path)
	return err == nil && !info.IsDir()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func runOutput(ctx context.Context, command string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, command, args...).Output()
}

func runCombined(ctx context.Context, exe string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, "-version")
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}
