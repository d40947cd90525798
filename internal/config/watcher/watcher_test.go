package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	w, err := New(func(e Event) { events <- e }, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, events
}

func waitEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestWatcher_CreateWriteRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	w, events := newTestWatcher(t)

	require.NoError(t, w.Watch(path))

	require.NoError(t, os.WriteFile(path, []byte("a = 1\n"), 0o644))
	e := waitEvent(t, events)
	assert.Equal(t, path, e.Path)
	assert.Equal(t, OpWrite, e.Op)

	require.NoError(t, os.Remove(path))
	assert.Equal(t, OpRemove, waitEvent(t, events).Op)
}

func TestWatcher_RenameIntoPlaceIsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	w, events := newTestWatcher(t)
	require.NoError(t, w.Watch(path))

	tmp := filepath.Join(dir, ".settings.toml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("a = 2\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	e := waitEvent(t, events)
	assert.Equal(t, path, e.Path)
	assert.Equal(t, OpWrite, e.Op)
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	w, events := newTestWatcher(t)
	require.NoError(t, w.Watch(filepath.Join(dir, "settings.toml")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o644))

	select {
	case e := <-events:
		t.Errorf("unexpected event %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	w, events := newTestWatcher(t)
	require.NoError(t, w.Watch(path))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('0' + i)}, 0o644))
	}
	waitEvent(t, events)

	select {
	case e := <-events:
		t.Errorf("burst produced a second event %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, _ := newTestWatcher(t)
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "nope", "settings.toml")))
}

func TestWatcher_WatchTwiceAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	w, _ := newTestWatcher(t)

	require.NoError(t, w.Watch(path))
	assert.NoError(t, w.Watch(path))
	assert.Len(t, w.Watched(), 1)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.ErrorIs(t, w.Watch(path), ErrClosed)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "unknown", Operation(9).String())
}
