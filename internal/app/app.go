package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
	"github.com/darren-sm/crypto-data-pipeline/internal/fetcher"
	"github.com/darren-sm/crypto-data-pipeline/internal/normalizer"
	"github.com/darren-sm/crypto-data-pipeline/internal/scheduler"
	"github.com/darren-sm/crypto-data-pipeline/internal/server"
	"github.com/darren-sm/crypto-data-pipeline/internal/service"
	"github.com/darren-sm/crypto-data-pipeline/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger}
}

func (a *App) newFetcher() fetcher.MarketFetcher {
	src := a.Config.Source
	return fetcher.NewMarkets(fetcher.MarketsOptions{
		BaseURL:     src.BaseURL,
		VsCurrency:  src.VsCurrency,
		Order:       src.Order,
		PerPage:     src.PerPage,
		Page:        src.Page,
		UserAgent:   src.UserAgent,
		Timeout:     src.RequestTimeout,
		MaxAttempts: src.MaxAttempts,
		Backoff:     src.RetryBackoff,
		MinInterval: src.MinRequestInterval,
	}, a.Logger)
}

func (a *App) newNormalizer() *normalizer.Normalizer {
	return normalizer.New(a.Config.Normalize.Precision, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	return storage.Open(ctx, a.Config.Storage, a.Logger)
}

// newService wires the pipeline. The store is connected per run, inside the
// load stage.
func (a *App) newService() *service.Service {
	var opts service.Options
	if a.Config.Storage.Backend == config.BackendPostgres {
		opts.LockKey = a.Config.Storage.Postgres.AdvisoryLockKey
	}
	return service.New(opts, a.newFetcher(), a.newNormalizer(), a.openStore, a.Logger)
}

// Run executes a single snapshot and returns its error, if any.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, err := a.newService().RunSnapshot(ctx)
	return err
}

// Daemon repeats snapshots on the configured schedule until interrupted.
func (a *App) Daemon(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := a.newService()
	sched, err := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting snapshot daemon")
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := svc.RunSnapshot(ctx)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("snapshot daemon stopped")
	return nil
}

// Serve exposes snapshot runs over HTTP until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.New(a.Config.Server, a.newService(), a.Logger).ListenAndServe(ctx)
}

// Validate checks settings that span packages: precision overrides must name
// rounded fields and fit the columns of the selected backend.
func Validate(cfg *config.Config) error {
	if err := normalizer.ValidatePrecision(cfg.Normalize.Precision); err != nil {
		return err
	}
	return storage.CheckScale(cfg.Storage.Backend, normalizer.Precision(cfg.Normalize.Precision))
}
