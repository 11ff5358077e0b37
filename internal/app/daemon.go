package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/receipts-intake/internal/async"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/export"
	"github.com/joseph-ayodele/receipts-intake/internal/ingest"
	"github.com/joseph-ayodele/receipts-intake/internal/matcher"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
	"github.com/joseph-ayodele/receipts-intake/internal/pipeline"
	"github.com/joseph-ayodele/receipts-intake/internal/publish"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
	"github.com/joseph-ayodele/receipts-intake/internal/scoring"
	"github.com/joseph-ayodele/receipts-intake/internal/server"
)

const healthInterval = 15 * time.Second

// Publisher connects to NATS when a URL is configured and falls back to
// logging the hand-offs otherwise.
func Publisher(c common.NATSConfig, exec *resilience.Executor, logger *slog.Logger) (publish.Publisher, error) {
	if c.URL == "" {
		logger.Info("nats url not set, hand-offs are logged only")
		return publish.NewLogPublisher(logger), nil
	}
	return publish.NewNATSPublisher(c.URL, publish.Options{
		FinalizedSubject: c.FinalizedSubject,
		ReviewSubject:    c.ReviewSubject,
		Executor:         exec,
	}, logger)
}

// RunDaemon starts every intaked component and blocks until ctx is done or
// one of them fails.
func RunDaemon(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	started := time.Now()
	lock, err := ingest.AcquireLock(cfg.Database.QueuePath+".lock", filepath.Dir(cfg.Database.QueuePath))
	if err != nil {
		return fmt.Errorf("another intaked owns %s: %w", cfg.Database.QueuePath, err)
	}
	defer func() { _ = lock.Release() }()

	queue, err := OpenQueue(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	tpl, err := OpenTemplates(ctx, cfg.Templates, true, logger)
	if err != nil {
		return err
	}
	defer tpl.Close()

	policy, err := ScoringPolicy(cfg.Scoring)
	if err != nil {
		return err
	}
	scorer, err := scoring.NewScorer(policy)
	if err != nil {
		return err
	}

	pm := metrics.NewPipelineMetrics("intaked")
	exec := resilience.NewExecutor(RetryConfig(cfg.Retry), logger).
		OnRetry(func(op string, _ int, _ error) { pm.Retry(op) })

	pub, err := Publisher(cfg.NATS, exec, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	svc, err := pipeline.NewService(pipeline.Config{
		OCRTimeout: cfg.OCR.Timeout,
		Extensions: ingest.ExtensionSet(cfg.Watcher.Extensions),
	}, pipeline.Deps{
		Queue:     queue.Repo,
		Templates: tpl.Repo,
		OCR:       ocr.NewExtractor(OCRConfig(cfg.OCR), logger),
		Matcher:   matcher.New(MatchOptions(cfg.Matching)),
		Scorer:    scorer,
		Publisher: pub,
		Executor:  exec,
		Metrics:   pm,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	pool := async.NewProcessorQueue(svc.HandleJob, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)
	svc.AttachQueue(pool)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pool.Shutdown(shutdownCtx)
	}()
	// The lock means nothing else is working the queue, so anything still
	// processing from before this start was abandoned.
	if _, _, err := svc.Recover(ctx, started); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}

	srv := server.New(server.NewIntakeService(svc, export.NewService(svc, logger), logger), logger)
	ping := func(ctx context.Context) bool {
		if err := queue.Ping(ctx); err != nil {
			logger.Warn("queue store unreachable", "error", err)
			return false
		}
		if err := tpl.Ping(ctx); err != nil {
			logger.Warn("template registry unreachable", "error", err)
			return false
		}
		return true
	}
	pollQueue := func(ctx context.Context) {
		counts, err := svc.Counts(ctx)
		if err != nil {
			logger.Warn("queue count failed", "error", err)
			return
		}
		byStatus := make(map[string]int, len(counts))
		for st, n := range counts {
			byStatus[string(st)] = n
		}
		pm.SetQueueCounts(byStatus)
	}
	srv.SetServing(ping(ctx))
	pollQueue(ctx)

	wm := metrics.NewWatcherMetrics("intaked")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.GRPCAddr) })
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Server.MetricsAddr, metrics.Combined(pm.Registry(), wm.Registry()), logger)
	})
	g.Go(func() error {
		t := time.NewTicker(healthInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				srv.SetServing(ping(gctx))
				pollQueue(gctx)
			}
		}
	})
	if cfg.Watcher.Enabled {
		wexec := resilience.NewExecutor(RetryConfig(cfg.Retry), logger).
			OnRetry(func(string, int, error) { wm.Retry() })
		w := ingest.NewWatcher(cfg.Watcher, svc, wexec, logger, wm)
		g.Go(func() error { return w.Run(gctx) })
	}

	logger.Info("intaked started",
		"grpc_addr", cfg.Server.GRPCAddr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"template_source", cfg.Templates.Source,
		"watcher", cfg.Watcher.Enabled,
		"watch_dir", cfg.Watcher.Dir,
	)
	err = g.Wait()
	logger.Info("intaked stopped")
	return err
}
