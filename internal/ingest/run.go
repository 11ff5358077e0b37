package ingest

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
)

// Watcher wires a Source, a Forwarder and a Scanner over one directory.
type Watcher struct {
	cfg     common.WatcherConfig
	source  Source
	fwd     *Forwarder
	scanner *Scanner
	log     *slog.Logger
}

func NewWatcher(cfg common.WatcherConfig, proc Processor, exec *resilience.Executor, logger *slog.Logger, m *metrics.WatcherMetrics) *Watcher {
	opts := Options{
		Quiescence:   cfg.Quiescence,
		PollInterval: cfg.PollInterval,
		Extensions:   cfg.Extensions,
		Logger:       logger,
		Metrics:      m,
	}
	var source Source
	if cfg.UsePolling {
		source = NewPollingSource(opts)
	} else {
		source = NewFSNotifySource(opts)
	}
	fwd := NewForwarder(proc, exec, ForwarderConfig{
		CallingAppID:  cfg.CallingAppID,
		MaxConcurrent: cfg.MaxConcurrent,
		SubmitRate:    cfg.SubmitRate,
	}, logger, m)
	scanner := NewScanner(ScannerConfig{
		Dir:         cfg.Dir,
		Interval:    cfg.ScanInterval,
		OrphanAfter: cfg.OrphanAfter,
		StaleAfter:  cfg.StaleAfter,
		Extensions:  cfg.Extensions,
	}, source, fwd, logger, m)

	return &Watcher{cfg: cfg, source: source, fwd: fwd, scanner: scanner, log: logger}
}

// Run blocks until ctx is done, then waits for in-flight hand-offs.
func (w *Watcher) Run(ctx context.Context) error {
	lock, err := AcquireLock(w.cfg.LockFile, w.cfg.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			w.log.Warn("failed to release watcher lock", "path", lock.Path(), "error", err)
		}
	}()

	events, errs, err := w.source.Subscribe(ctx, w.cfg.Dir)
	if err != nil {
		return err
	}

	if w.cfg.InitialScan {
		stats, err := w.scanner.Initial(ctx)
		if err != nil {
			w.log.Warn("initial scan failed", "dir", w.cfg.Dir, "error", err)
		} else {
			w.log.Info("initial scan", "dir", w.cfg.Dir, "scanned", stats.Scanned,
				"pending", stats.Observed, "forwarded", stats.Forwarded)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.fwd.Run(gctx, events)
		return nil
	})
	g.Go(func() error {
		for err := range errs {
			w.log.Warn("watch error", "dir", w.cfg.Dir, "error", err)
		}
		return nil
	})
	if w.cfg.ScanInterval > 0 {
		g.Go(func() error { return w.scanner.Run(gctx) })
	}
	err = g.Wait()
	w.fwd.Wait()
	return err
}
