package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
	"github.com/joseph-ayodele/receipts-intake/internal/templates"
)

// Store is an opened repository with its health probe and closer.
type Store[T any] struct {
	Repo  T
	Ping  func(ctx context.Context) error
	Close func()
}

// OpenQueue opens and migrates the SQLite queue store.
func OpenQueue(ctx context.Context, c common.DatabaseConfig, logger *slog.Logger) (Store[repository.QueueRepository], error) {
	drv, err := repository.OpenSQLite(ctx, c.QueuePath, c.BusyTimeout, logger)
	if err != nil {
		return Store[repository.QueueRepository]{}, err
	}
	if err := repository.MigrateSQLite(drv.DB(), logger); err != nil {
		_ = drv.Close()
		return Store[repository.QueueRepository]{}, fmt.Errorf("migrate queue store: %w", err)
	}
	return Store[repository.QueueRepository]{
		Repo: repository.NewQueueRepository(drv, logger),
		Ping: func(ctx context.Context) error { return drv.DB().PingContext(ctx) },
		Close: func() {
			if err := drv.Close(); err != nil {
				logger.Error("failed to close queue store", "error", err)
			}
		},
	}, nil
}

// OpenTemplates opens the configured registry behind a read-through cache.
// With migrate set, the Postgres schema is brought up to date first.
func OpenTemplates(ctx context.Context, c common.TemplatesConfig, migrate bool, logger *slog.Logger) (Store[repository.TemplateRepository], error) {
	var (
		next repository.TemplateRepository
		st   Store[repository.TemplateRepository]
	)
	switch c.Source {
	case "postgres":
		drv, pool, err := repository.Open(ctx, DBConfig(c), logger)
		if err != nil {
			return st, fmt.Errorf("%w: template registry: %v", common.ErrServiceUnavailable, err)
		}
		if err := repository.HealthCheck(ctx, pool, c.DialTimeout, logger); err != nil {
			repository.Close(drv, pool, logger)
			return st, fmt.Errorf("%w: template registry: %v", common.ErrServiceUnavailable, err)
		}
		if migrate {
			if err := repository.MigratePostgres(drv.DB(), logger); err != nil {
				repository.Close(drv, pool, logger)
				return st, fmt.Errorf("migrate template registry: %w", err)
			}
		}
		next = repository.NewTemplateRepository(drv, logger)
		st.Ping = func(ctx context.Context) error { return repository.HealthCheck(ctx, pool, c.DialTimeout, logger) }
		st.Close = func() { repository.Close(drv, pool, logger) }
	case "file":
		reg, err := templates.NewFileRegistry(c.File, c.ProposalsFile, logger)
		if err != nil {
			return st, err
		}
		next = reg
		st.Ping = func(context.Context) error { return nil }
		st.Close = func() {}
	default:
		return st, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown template source %q", c.Source), common.ErrInvalidInput)
	}

	st.Repo = templates.NewCache(next, c.CacheTTL, logger)
	return st, nil
}
