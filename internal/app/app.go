package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"indexheat/internal/catalog"
	"indexheat/internal/config"
	"indexheat/internal/progress"
	"indexheat/internal/provider"
	"indexheat/internal/refresh"
	"indexheat/internal/scheduler"
	"indexheat/internal/server"
	"indexheat/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	tracker *progress.Tracker
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		tracker: progress.NewTracker(),
	}
}

func (a *App) newFetcher() *provider.Fetcher {
	providers := a.Config.Providers

	em := provider.NewEastmoney(provider.EastmoneyOptions{
		BaseURL:   providers.Eastmoney.BaseURL,
		Timeout:   providers.Eastmoney.RequestTimeout,
		UserAgent: providers.UserAgent,
	}, a.Logger)

	sina := provider.NewSina(provider.SinaOptions{
		BaseURL:   providers.Sina.BaseURL,
		Timeout:   providers.Sina.RequestTimeout,
		UserAgent: providers.UserAgent,
	}, a.Logger)

	csindex := provider.NewCSIndex(provider.CSIndexOptions{
		BaseURL:   providers.CSIndex.BaseURL,
		Timeout:   providers.CSIndex.RequestTimeout,
		UserAgent: providers.UserAgent,
	}, a.Logger)

	return provider.NewFetcher(em, sina, csindex, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRunner(store *storage.Store) *refresh.Runner {
	return refresh.NewRunner(refresh.RunnerOptions{
		Source:       catalog.NewExcelSource(a.Config.Catalog.ExcelPath),
		Fetcher:      a.newFetcher(),
		Indices:      store,
		Tasks:        store,
		Locker:       store,
		Tracker:      a.tracker,
		HistoryYears: a.Config.Refresh.HistoryYears,
		LockKey:      a.Config.Refresh.AdvisoryLockKey,
	}, a.Logger)
}

// Serve runs the API server and, when enabled, the cron refresh schedule,
// until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := a.newRunner(store)

	srv := server.New(server.Options{
		ListenAddr:      a.Config.API.ListenAddr,
		ShutdownTimeout: a.Config.API.ShutdownTimeout,
		PercentileLow:   a.Config.Percentile.Low,
		PercentileHigh:  a.Config.Percentile.High,
	}, runner, a.tracker, store, store, a.Logger)

	var sched *scheduler.Scheduler
	if a.Config.Schedule.Enabled {
		sched, err = scheduler.New(a.Config.Schedule.Cron, runner, a.Logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	a.Logger.Info().Msg("indexheat service started")
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("indexheat service stopped")
	return nil
}
