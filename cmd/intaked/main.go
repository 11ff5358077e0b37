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

	"github.com/joseph-ayodele/receipts-intake/internal/app"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/logging"
)

func main() {
	configPath := flag.String("config", "", "config file (yaml or toml); INTAKE_* env vars override it")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New("intaked", cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunDaemon(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("intaked exited with error", "error", err)
		os.Exit(1)
	}
}
