package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// TaskFromPath builds a Task for a local file. The name is the base name in
// NFC form so the same file uploads under one name whatever the filesystem's
// normalization.
func TaskFromPath(path string) (Task, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Task{}, fmt.Errorf("upload: %w", err)
	}

	if !info.Mode().IsRegular() {
		return Task{}, fmt.Errorf("upload: %s is not a regular file", path)
	}

	return Task{
		Name: norm.NFC.String(filepath.Base(path)),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// TasksFromPaths builds one Task per path, in order. A path that cannot be
// uploaded still gets a Task under its name whose Open returns the reason, so
// the batch reports it as a failure in its place.
func TasksFromPaths(paths []string) []Task {
	tasks := make([]Task, 0, len(paths))

	for _, p := range paths {
		t, err := TaskFromPath(p)
		if err != nil {
			t = unreadableTask(p, err)
		}

		tasks = append(tasks, t)
	}

	return tasks
}

func unreadableTask(path string, err error) Task {
	return Task{
		Name: norm.NFC.String(filepath.Base(path)),
		Open: func() (io.ReadCloser, error) {
			return nil, err
		},
	}
}
