// Package dropwatch turns a local "drop folder" into upload batches. Files
// created or rewritten in the folder are collected until the folder has been
// quiet for a settle period, then handed over as one batch of upload.Tasks.
package dropwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/filehub-go/internal/upload"
)

const (
	defaultSettle       = 2 * time.Second
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher is the subset of fsnotify.Watcher the Watcher uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher, whose channels are fields, to
// FsWatcher.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// BatchFunc receives each settled batch. Tasks are sorted by name.
type BatchFunc func(ctx context.Context, tasks []upload.Task)

// Options configures a Watcher.
type Options struct {
	Logger *slog.Logger
	// Settle is the quiet period before a batch is delivered.
	Settle time.Duration
	// ScanExisting delivers files already in the folder as a first batch.
	ScanExisting bool
	// NewWatcher overrides fsnotify, for tests.
	NewWatcher func() (FsWatcher, error)
	// Sleep overrides the watcher-error backoff wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// fileKey identifies one version of a file.
type fileKey struct {
	size    int64
	modTime time.Time
}

// Watcher watches one folder. It is not safe to Run twice concurrently.
type Watcher struct {
	dir        string
	logger     *slog.Logger
	settle     time.Duration
	scan       bool
	newWatcher func() (FsWatcher, error)
	sleep      func(ctx context.Context, d time.Duration) error

	pending   map[string]struct{}
	delivered map[string]fileKey
}

// New creates a Watcher for dir, which must be an existing directory.
func New(dir string, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dropwatch: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("dropwatch: %s is not a directory", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("dropwatch: %w", err)
	}

	w := &Watcher{
		dir:        abs,
		logger:     opts.Logger,
		settle:     opts.Settle,
		scan:       opts.ScanExisting,
		newWatcher: opts.NewWatcher,
		sleep:      opts.Sleep,
		pending:    make(map[string]struct{}),
		delivered:  make(map[string]fileKey),
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}

	if w.settle <= 0 {
		w.settle = defaultSettle
	}

	if w.newWatcher == nil {
		w.newWatcher = func() (FsWatcher, error) {
			fw, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return fsnotifyWatcher{w: fw}, nil
		}
	}

	if w.sleep == nil {
		w.sleep = timeSleep
	}

	return w, nil
}

// Dir returns the absolute path of the watched folder.
func (w *Watcher) Dir() string { return w.dir }

// Run watches the folder until ctx is canceled, calling handle with every
// settled batch. handle runs on Run's goroutine; events arriving meanwhile
// are buffered by the watcher and collected afterwards.
func (w *Watcher) Run(ctx context.Context, handle BatchFunc) error {
	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("dropwatch: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("dropwatch: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching drop folder",
		slog.String("dir", w.dir),
		slog.Duration("settle", w.settle),
	)

	timer := time.NewTimer(w.settle)
	if !w.scan || !w.scanExisting() {
		timer.Stop()
	}
	defer timer.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			if w.handleEvent(ev) {
				resetTimer(timer, w.settle)
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("drop folder watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := w.sleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-timer.C:
			if tasks := w.flush(); len(tasks) > 0 {
				handle(ctx, tasks)
			}
		}
	}
}

// handleEvent records a change and reports whether the settle timer should
// restart.
func (w *Watcher) handleEvent(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if filepath.Dir(ev.Name) != w.dir || skipName(name) {
		return false
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.pending[ev.Name] = struct{}{}
		w.logger.Debug("drop folder change", slog.String("name", name), slog.String("op", ev.Op.String()))

		return true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		delete(w.delivered, ev.Name)

		return false
	default:
		// Chmod only.
		return false
	}
}

// scanExisting queues the files already present. It reports whether any
// were queued.
func (w *Watcher) scanExisting() bool {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scanning drop folder", slog.String("error", err.Error()))
		return false
	}

	for _, e := range entries {
		if e.Type().IsRegular() && !skipName(e.Name()) {
			w.pending[filepath.Join(w.dir, e.Name())] = struct{}{}
		}
	}

	return len(w.pending) > 0
}

// flush turns the pending paths into tasks, skipping anything that vanished,
// is not a regular file, or was already delivered unchanged.
func (w *Watcher) flush() []upload.Task {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}

	clear(w.pending)
	sort.Strings(paths)

	var tasks []upload.Task

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("stat failed", slog.String("path", p), slog.String("error", err.Error()))
			}

			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		key := fileKey{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := w.delivered[p]; ok && prev == key {
			continue
		}

		task, err := upload.TaskFromPath(p)
		if err != nil {
			w.logger.Warn("skipping file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}

		w.delivered[p] = key
		tasks = append(tasks, task)
	}

	if len(tasks) > 0 {
		w.logger.Info("drop folder batch ready", slog.Int("files", len(tasks)))
	}

	return tasks
}

// skipName filters hidden files and common partial-download names.
func skipName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") || strings.HasSuffix(name, "~") {
		return true
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".partial", ".tmp", ".crdownload", ".swp":
		return true
	}

	return false
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	t.Reset(d)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
