package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PollingSource scans the directory on an interval. It suits network
// mounts where inotify events are unreliable.
type PollingSource struct {
	opts Options
	s    *settler
}

func NewPollingSource(opts Options) *PollingSource {
	opts = opts.withDefaults()
	return &PollingSource{opts: opts, s: newSettler(opts)}
}

func (p *PollingSource) Observe(path string) { p.s.observe(path, false) }

func (p *PollingSource) Subscribe(ctx context.Context, dir string) (<-chan ReadyEvent, <-chan error, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("watch dir %s: not a directory", dir)
	}

	evCh := make(chan ReadyEvent, 64)
	errCh := make(chan error, 8)

	go func() {
		defer close(evCh)
		defer close(errCh)

		ticker := time.NewTicker(min(p.opts.PollInterval, tickInterval(p.opts.Quiescence)))
		defer ticker.Stop()
		lastPoll := time.Time{}

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if now.Sub(lastPoll) >= p.opts.PollInterval {
					lastPoll = now
					if err := p.poll(dir); err != nil {
						select {
						case errCh <- err:
						default:
						}
					}
				}
				p.s.settle(ctx, evCh, errCh)
			}
		}
	}()

	p.opts.Logger.Info("watching directory", "dir", dir, "mode", "polling", "interval", p.opts.PollInterval.String())
	return evCh, errCh, nil
}

func (p *PollingSource) poll(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("poll %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			p.s.observe(filepath.Join(dir, e.Name()), false)
		}
	}
	return nil
}
