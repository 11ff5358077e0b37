package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/receipts-intake/internal/app"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/ingest"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/logging"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/metrics"
	"github.com/joseph-ayodele/receipts-intake/internal/resilience"
	"github.com/joseph-ayodele/receipts-intake/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file (yaml or toml); INTAKE_* env vars override it")
		dir        = flag.String("dir", "", "directory to watch (overrides watcher.dir)")
		target     = flag.String("target", "", "intaked gRPC address (overrides server.target)")
	)
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	if *dir != "" {
		cfg.Watcher.Dir = *dir
	}
	if *target != "" {
		cfg.Server.Target = *target
	}
	if cfg.Watcher.Dir == "" || cfg.Server.Target == "" {
		fmt.Fprintln(os.Stderr, "watcher.dir and server.target are required")
		os.Exit(2)
	}

	logger := logging.New("intake-watcher", cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("intake-watcher exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	client, err := server.Dial(cfg.Server.Target, cfg.Watcher.CallingAppID)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := waitHealthy(ctx, client, logger); err != nil {
		return err
	}

	wm := metrics.NewWatcherMetrics("intake-watcher")
	exec := resilience.NewExecutor(app.RetryConfig(cfg.Retry), logger).
		OnRetry(func(string, int, error) { wm.Retry() })

	w := ingest.NewWatcher(cfg.Watcher, client, exec, logger, wm)

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- metrics.Serve(mctx, cfg.Server.MetricsAddr, wm.Handler(), logger) }()

	logger.Info("intake-watcher started", "dir", cfg.Watcher.Dir, "target", cfg.Server.Target)
	err = w.Run(ctx)
	cancel()
	if merr := <-errCh; merr != nil {
		logger.Warn("metrics endpoint stopped", "error", merr)
	}
	return err
}

// waitHealthy blocks until intaked reports SERVING, backing off between
// probes.
func waitHealthy(ctx context.Context, client *server.Client, logger *slog.Logger) error {
	backoff := time.Second
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Check(checkCtx)
		cancel()
		if err == nil {
			logger.Info("intaked is serving")
			return nil
		}
		logger.Warn("intaked not ready, waiting", "error", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, 30*time.Second)
	}
}
