package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifySource reacts to OS filesystem events on a single directory.
type FSNotifySource struct {
	opts Options
	s    *settler
}

func NewFSNotifySource(opts Options) *FSNotifySource {
	opts = opts.withDefaults()
	return &FSNotifySource{opts: opts, s: newSettler(opts)}
}

func (f *FSNotifySource) Observe(path string) { f.s.observe(path, false) }

func (f *FSNotifySource) Subscribe(ctx context.Context, dir string) (<-chan ReadyEvent, <-chan error, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("watch dir %s: not a directory", dir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.opts.Logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	evCh := make(chan ReadyEvent, 64)
	errCh := make(chan error, 8)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				f.opts.Logger.Warn("failed to close fsnotify watcher", "error", err)
			}
		}()

		ticker := time.NewTicker(tickInterval(f.opts.Quiescence))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				switch {
				case e.Op.Has(fsnotify.Remove), e.Op.Has(fsnotify.Rename):
					f.s.forget(e.Name)
				case e.Op.Has(fsnotify.Create), e.Op.Has(fsnotify.Write), e.Op.Has(fsnotify.Chmod):
					f.s.observe(e.Name, true)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.opts.Logger.Error("watcher error", "error", err)
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					f.opts.Logger.Warn("event queue overflowed, relying on periodic scan")
				}
				select {
				case errCh <- err:
				default:
				}
			case <-ticker.C:
				f.s.settle(ctx, evCh, errCh)
			}
		}
	}()

	f.opts.Logger.Info("watching directory", "dir", dir, "mode", "fsnotify", "quiescence", f.opts.Quiescence.String())
	return evCh, errCh, nil
}
