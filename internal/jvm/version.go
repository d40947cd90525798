package jvm

import (
	"context"
	"regexp"
	"strconv"
)

var versionPattern = regexp.MustCompile(`version\s+"(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the effective major version from a `java -version`
// banner. Legacy "1.x" versions report x.
func ParseVersion(output string) (int, bool) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if major == 1 && m[2] != "" {
		minor, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, false
		}
		return minor, true
	}
	return major, true
}

// Version runs the executable with -version and parses the banner, which most
// JVMs print on stderr. Any failure, including the timeout, reports false.
func (l *Locator) Version(ctx context.Context, exe string) (int, bool) {
	info, statErr := l.stat(exe)
	if statErr == nil {
		if hit, ok := l.versions.Get(exe); ok && hit.modTime.Equal(info.ModTime()) && hit.size == info.Size() {
			return hit.version, true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.versionTimeout)
	defer cancel()

	out, err := l.runVersion(ctx, exe)
	if err != nil || ctx.Err() != nil {
		return 0, false
	}

	v, ok := ParseVersion(string(out))
	if !ok {
		return 0, false
	}
	if statErr == nil {
		l.versions.Add(exe, cachedVersion{modTime: info.ModTime(), size: info.Size(), version: v})
	}
	return v, true
}
