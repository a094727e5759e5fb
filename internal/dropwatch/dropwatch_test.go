package dropwatch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filehub-go/internal/upload"
)

// mockFsWatcher implements FsWatcher with injectable channels.
type mockFsWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	added  chan string
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
		added:  make(chan string, 1),
	}
}

func (m *mockFsWatcher) Add(name string) error         { m.added <- name; return nil }
func (m *mockFsWatcher) Close() error                  { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

type harness struct {
	dir     string
	mock    *mockFsWatcher
	batches chan []upload.Task
	cancel  context.CancelFunc
	done    chan error
}

func startWatcher(t *testing.T, dir string, scan bool) *harness {
	t.Helper()

	h := &harness{
		dir:     dir,
		mock:    newMockFsWatcher(),
		batches: make(chan []upload.Task, 10),
		done:    make(chan error, 1),
	}

	w, err := New(dir, Options{
		Settle:       20 * time.Millisecond,
		ScanExisting: scan,
		NewWatcher:   func() (FsWatcher, error) { return h.mock, nil },
		Sleep:        func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		h.done <- w.Run(ctx, func(_ context.Context, tasks []upload.Task) { h.batches <- tasks })
	}()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	select {
	case <-h.mock.added:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never registered the folder")
	}

	return h
}

func (h *harness) write(t *testing.T, name, content string, op fsnotify.Op) {
	t.Helper()

	p := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	h.mock.events <- fsnotify.Event{Name: p, Op: op}
}

func (h *harness) next(t *testing.T) []upload.Task {
	t.Helper()

	select {
	case b := <-h.batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
		return nil
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()

	select {
	case b := <-h.batches:
		t.Fatalf("unexpected batch of %d", len(b))
	case <-time.After(100 * time.Millisecond):
	}
}

func names(tasks []upload.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}

	return out
}

func absTempDir(t *testing.T) string {
	t.Helper()

	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)

	return dir
}

func TestRun_BatchesSettledFiles(t *testing.T) {
	h := startWatcher(t, absTempDir(t), false)

	h.write(t, "b.txt", "bb", fsnotify.Create)
	h.write(t, "a.txt", "a", fsnotify.Create)
	h.write(t, "a.txt", "aaa", fsnotify.Write)

	batch := h.next(t)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names(batch))
	assert.Equal(t, int64(3), batch[0].Size)

	rc, err := batch[0].Open()
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(data))
}

func TestRun_SkipsHiddenPartialAndDirectories(t *testing.T) {
	h := startWatcher(t, absTempDir(t), false)

	h.write(t, ".DS_Store", "x", fsnotify.Create)
	h.write(t, "movie.mkv.part", "x", fsnotify.Create)
	h.write(t, "report.docx~", "x", fsnotify.Create)

	sub := filepath.Join(h.dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o700))
	h.mock.events <- fsnotify.Event{Name: sub, Op: fsnotify.Create}

	h.none(t)

	h.write(t, "keep.pdf", "x", fsnotify.Create)
	assert.Equal(t, []string{"keep.pdf"}, names(h.next(t)))
}

func TestRun_RemovedBeforeSettleIsDropped(t *testing.T) {
	h := startWatcher(t, absTempDir(t), false)

	h.write(t, "gone.txt", "x", fsnotify.Create)
	p := filepath.Join(h.dir, "gone.txt")
	require.NoError(t, os.Remove(p))
	h.mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Remove}

	h.none(t)
}

func TestRun_UnchangedFileNotRedelivered(t *testing.T) {
	h := startWatcher(t, absTempDir(t), false)

	h.write(t, "a.txt", "one", fsnotify.Create)
	require.Len(t, h.next(t), 1)

	// Chmod-style noise and a write event without a content change.
	p := filepath.Join(h.dir, "a.txt")
	h.mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Chmod}
	h.mock.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}
	h.none(t)

	h.write(t, "a.txt", "changed content", fsnotify.Write)
	batch := h.next(t)
	require.Len(t, batch, 1)
	assert.Equal(t, int64(len("changed content")), batch[0].Size)
}

func TestRun_ScanExisting(t *testing.T) {
	dir := absTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.csv"), []byte("1,2"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o600))

	h := startWatcher(t, dir, true)
	assert.Equal(t, []string{"old.csv"}, names(h.next(t)))
}

func TestRun_WatcherErrorsDoNotStop(t *testing.T) {
	h := startWatcher(t, absTempDir(t), false)

	h.mock.errs <- errors.New("queue overflow")
	h.write(t, "after.txt", "x", fsnotify.Create)

	assert.Equal(t, []string{"after.txt"}, names(h.next(t)))
}

func TestRun_CancelStops(t *testing.T) {
	h := startWatcher(t, absTempDir(t), false)
	h.cancel()

	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := New(file, Options{})
	require.Error(t, err)

	_, err = New(filepath.Join(dir, "missing"), Options{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSkipName(t *testing.T) {
	tests := map[string]bool{
		"a.txt":               false,
		".hidden":             true,
		"x.TMP":               true,
		"~$draft.docx":        true,
		"download.crdownload": true,
		"notes.md":            false,
	}

	for name, want := range tests {
		assert.Equal(t, want, skipName(name), name)
	}
}
