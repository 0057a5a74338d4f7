package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventSink struct {
	mu     sync.Mutex
	events []FileEvent
}

func (s *eventSink) add(ev FileEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) ops() []FileOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileOp, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Op)
	}
	return out
}

func fastWatcher(t *testing.T, path string) (*FileWatcher, *eventSink) {
	t.Helper()
	w, err := NewFileWatcher([]string{path},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	sink := &eventSink{}
	w.OnChange(sink.add)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, sink
}

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0o644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Second, w.pollInterval)
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestNewFileWatcher_NonExistentPath(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	assert.Len(t, w.Paths(), 1)
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	f := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a: 1"), 0o644))
	_, sink := fastWatcher(t, f)

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(f, []byte("a: 2"), 0o644))
	require.NoError(t, os.Chtimes(f, future, future))

	assert.Eventually(t, func() bool {
		ops := sink.ops()
		return len(ops) == 1 && ops[0] == FileOpWrite
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DetectsCreateAndRemove(t *testing.T) {
	f := filepath.Join(t.TempDir(), "late.yaml")
	_, sink := fastWatcher(t, f)

	require.NoError(t, os.WriteFile(f, []byte("a: 1"), 0o644))
	assert.Eventually(t, func() bool { return len(sink.ops()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, FileOpCreate, sink.ops()[0])

	require.NoError(t, os.Remove(f))
	assert.Eventually(t, func() bool { return len(sink.ops()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, FileOpRemove, sink.ops()[1])
}

func TestFileWatcher_StartTwice(t *testing.T) {
	f := filepath.Join(t.TempDir(), "config.yaml")
	w, _ := fastWatcher(t, f)

	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.NoError(t, w.Stop())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
