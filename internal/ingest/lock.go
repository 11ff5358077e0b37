package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock guards a watch directory so only one watcher process promotes files
// in it.
type Lock struct {
	path string
	fl   *flock.Flock
}

// AcquireLock takes an exclusive lock on path, or on dir/.intake-watcher.lock
// when path is empty. It fails at once if another process holds it.
func AcquireLock(path, dir string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(dir, ".intake-watcher.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another watcher already holds %s", path)
	}
	return &Lock{path: path, fl: fl}, nil
}

func (l *Lock) Path() string { return l.path }

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
