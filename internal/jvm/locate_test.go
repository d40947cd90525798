package jvm

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInfo struct {
	name string
	dir  bool
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 1 }
func (f fakeInfo) Mode() fs.FileMode  { return 0o755 }
func (f fakeInfo) ModTime() time.Time { return time.Unix(1700000000, 0) }
func (f fakeInfo) IsDir() bool        { return f.dir }
func (f fakeInfo) Sys() any           { return nil }

// fakeFS maps paths to "is directory".
type fakeFS map[string]bool

func (f fakeFS) stat(path string) (fs.FileInfo, error) {
	dir, ok := f[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fakeInfo{name: filepath.Base(path), dir: dir}, nil
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func lookupReturning(out string, err error) func(context.Context, string, ...string) ([]byte, error) {
	return func(context.Context, string, ...string) ([]byte, error) {
		return []byte(out), err
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		banner string
		want   int
		ok     bool
	}{
		{"legacy 1.8", `java version "1.8.0_345"`, 8, true},
		{"modern 17", `openjdk version "17.0.2" 2022-01-18`, 17, true},
		{"major only", `openjdk version "11" 2018-09-25`, 11, true},
		{"legacy without minor", `java version "1"`, 1, true},
		{"multi line stderr", "Picked up _JAVA_OPTIONS: -Xmx1g\nopenjdk version \"21.0.1\" 2023-10-17\nOpenJDK Runtime", 21, true},
		{"no quotes", `openjdk 17.0.2 2022-01-18`, 0, false},
		{"garbage", "command not found", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVersion(tt.banner)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocate_ConfiguredHomeWins(t *testing.T) {
	configured := filepath.Join("opt", "jdk17")
	javaHome := filepath.Join("usr", "lib", "jvm", "jdk11")
	onPath := filepath.Join("usr", "bin", "java")
	files := fakeFS{
		filepath.Join(configured, "bin", "java"): false,
		filepath.Join(javaHome, "bin", "java"):   false,
		onPath:                                   false,
	}

	lookups := 0
	l := New(
		WithGOOS("linux"),
		WithStat(files.stat),
		WithGetenv(env(map[string]string{"JAVA_HOME": javaHome})),
		WithPathLookup(func(context.Context, string, ...string) ([]byte, error) {
			lookups++
			return []byte(onPath), nil
		}),
	)

	c, ok := l.Locate(context.Background(), configured)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(configured, "bin", "java"), c.Path)
	assert.False(t, c.HasVersion())
	assert.Zero(t, lookups, "PATH lookup must not run after a configured hit")
}

func TestLocate_ConfiguredExecutable(t *testing.T) {
	exe := filepath.Join("opt", "jdk", "bin", "java")
	l := New(WithGOOS("linux"), WithStat(fakeFS{exe: false}.stat), WithGetenv(env(nil)),
		WithPathLookup(lookupReturning("", errors.New("no java"))))

	c, ok := l.Locate(context.Background(), exe)
	require.True(t, ok)
	assert.Equal(t, exe, c.Path)
}

func TestLocate_ConfiguredNonJavaFileRejected(t *testing.T) {
	other := filepath.Join("opt", "bin", "node")
	l := New(WithGOOS("linux"), WithStat(fakeFS{other: false}.stat), WithGetenv(env(nil)),
		WithPathLookup(lookupReturning("", errors.New("no java"))))

	_, ok := l.Locate(context.Background(), other)
	assert.False(t, ok)
}

func TestLocate_ConfiguredDirectoryNamedJavaRejected(t *testing.T) {
	dir := filepath.Join("opt", "java")
	l := New(WithGOOS("linux"), WithStat(fakeFS{dir: true}.stat), WithGetenv(env(nil)),
		WithPathLookup(lookupReturning("", errors.New("no java"))))

	_, ok := l.Locate(context.Background(), dir)
	assert.False(t, ok)
}

func TestLocate_FallsBackToJavaHome(t *testing.T) {
	javaHome := filepath.Join("usr", "lib", "jvm", "jdk21")
	files := fakeFS{filepath.Join(javaHome, "bin", "java"): false}
	l := New(WithGOOS("linux"), WithStat(files.stat),
		WithGetenv(env(map[string]string{"JAVA_HOME": javaHome})),
		WithPathLookup(lookupReturning("", errors.New("unexpected"))))

	c, ok := l.Locate(context.Background(), filepath.Join("missing", "jdk"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join(javaHome, "bin", "java"), c.Path)
}

func TestLocate_PathLookupFirstLine(t *testing.T) {
	first := filepath.Join("usr", "bin", "java")
	second := filepath.Join("usr", "local", "bin", "java")
	files := fakeFS{first: false, second: false}

	var gotCommand string
	l := New(WithGOOS("linux"), WithStat(files.stat), WithGetenv(env(nil)),
		WithPathLookup(func(_ context.Context, command string, args ...string) ([]byte, error) {
			gotCommand = command
			assert.Equal(t, []string{"java"}, args)
			return []byte(first + "\r\n" + second + "\n"), nil
		}))

	c, ok := l.Locate(context.Background(), "")
	require.True(t, ok)
	assert.Equal(t, first, c.Path)
	assert.Equal(t, "which", gotCommand)
}

func TestLocate_WindowsUsesWhereAndExe(t *testing.T) {
	home := filepath.Join("C", "jdk")
	exe := filepath.Join(home, "bin", "java.exe")
	l := New(WithGOOS("windows"), WithStat(fakeFS{exe: false}.stat),
		WithGetenv(env(map[string]string{"JAVA_HOME": home})))

	c, ok := l.Locate(context.Background(), "")
	require.True(t, ok)
	assert.Equal(t, exe, c.Path)

	var gotCommand string
	l = New(WithGOOS("windows"), WithStat(fakeFS{}.stat), WithGetenv(env(nil)),
		WithPathLookup(func(_ context.Context, command string, _ ...string) ([]byte, error) {
			gotCommand = command
			return nil, errors.New("INFO: Could not find files")
		}))
	_, ok = l.Locate(context.Background(), "")
	assert.False(t, ok)
	assert.Equal(t, "where", gotCommand)
}

func TestLocate_PathResultMustExist(t *testing.T) {
	l := New(WithGOOS("linux"), WithStat(fakeFS{}.stat), WithGetenv(env(nil)),
		WithPathLookup(lookupReturning("/usr/bin/java\n", nil)))

	_, ok := l.Locate(context.Background(), "")
	assert.False(t, ok)
}

func TestLocate_PathLookupTimeout(t *testing.T) {
	l := New(WithGOOS("linux"), WithStat(fakeFS{}.stat), WithGetenv(env(nil)),
		WithTimeouts(20*time.Millisecond, 0),
		WithPathLookup(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	start := time.Now()
	_, ok := l.Locate(context.Background(), "")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestVersion(t *testing.T) {
	exe := filepath.Join("opt", "jdk", "bin", "java")
	files := fakeFS{exe: false}

	t.Run("parses combined output", func(t *testing.T) {
		l := New(WithStat(files.stat), WithVersionRunner(func(_ context.Context, got string) ([]byte, error) {
			assert.Equal(t, exe, got)
			return []byte("openjdk version \"17.0.9\" 2023-10-17\n"), nil
		}))
		v, ok := l.Version(context.Background(), exe)
		require.True(t, ok)
		assert.Equal(t, 17, v)
	})

	t.Run("execution failure is absent", func(t *testing.T) {
		l := New(WithStat(files.stat), WithVersionRunner(func(context.Context, string) ([]byte, error) {
			return []byte(`openjdk version "17"`), errors.New("exit status 1")
		}))
		_, ok := l.Version(context.Background(), exe)
		assert.False(t, ok)
	})

	t.Run("unparseable is absent", func(t *testing.T) {
		l := New(WithStat(files.stat), WithVersionRunner(func(context.Context, string) ([]byte, error) {
			return []byte("Error: could not create the Java Virtual Machine."), nil
		}))
		_, ok := l.Version(context.Background(), exe)
		assert.False(t, ok)
	})

	t.Run("timeout is absent", func(t *testing.T) {
		l := New(WithStat(files.stat), WithTimeouts(0, 20*time.Millisecond),
			WithVersionRunner(func(ctx context.Context, _ string) ([]byte, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}))
		_, ok := l.Version(context.Background(), exe)
		assert.False(t, ok)
	})

	t.Run("successful version checks are memoised", func(t *testing.T) {
		var calls atomic.Int32
		l := New(WithStat(files.stat), WithVersionRunner(func(context.Context, string) ([]byte, error) {
			calls.Add(1)
			return []byte(`java version "1.8.0_345"`), nil
		}))
		for i := 0; i < 3; i++ {
			v, ok := l.Version(context.Background(), exe)
			require.True(t, ok)
			assert.Equal(t, 8, v)
		}
		assert.EqualValues(t, 1, calls.Load())
	})
}

func TestLocateWithVersion(t *testing.T) {
	home := filepath.Join("opt", "jdk")
	exe := filepath.Join(home, "bin", "java")
	l := New(WithGOOS("linux"), WithStat(fakeFS{exe: false}.stat), WithGetenv(env(nil)),
		WithVersionRunner(func(context.Context, string) ([]byte, error) {
			return []byte(`openjdk version "11.0.20"`), nil
		}))

	c, ok := l.LocateWithVersion(context.Background(), home)
	require.True(t, ok)
	assert.Equal(t, Candidate{Path: exe, Version: 11}, c)
	assert.True(t, c.HasVersion())
}
