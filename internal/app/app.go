package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lst-yield/internal/alerting"
	"lst-yield/internal/config"
	"lst-yield/internal/fetcher"
	"lst-yield/internal/metrics"
	"lst-yield/internal/scheduler"
	"lst-yield/internal/service"
	"lst-yield/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle writing results to stdout.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newFetcher(m *metrics.Metrics) *fetcher.Onchain {
	eth := a.Config.Ethereum
	return fetcher.NewOnchain(fetcher.OnchainOptions{
		RPCURL:            eth.RPCURL,
		TokenAddress:      eth.TokenAddress,
		Timeout:           eth.RequestTimeout,
		RequestsPerSecond: eth.RequestsPerSecond,
		MaxConcurrency:    eth.MaxConcurrency,
		MaxRetries:        eth.MaxRetries,
		RetryBackoff:      eth.RetryBackoff,
	}, m, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

// openStore returns a nil store without error when no DSN is configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database not configured; cannot %s", purpose)
	}
	return store, closeStore, nil
}

// newService wires the on-chain fetcher and optional store into a Service.
// A nil store keeps the service fully functional without caching or history.
func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler, notifier alerting.Notifier, m *metrics.Metrics) (*service.Service, func()) {
	backing := a.newFetcher(m)

	var (
		cache   storage.ObservationStore
		reports storage.ReportStore
	)
	if store != nil {
		cache = store
		reports = store
	}

	return service.New(a.Config, sched, backing, cache, reports, notifier, m, a.Logger), backing.Close
}

// Compute runs one computation and prints the committed report line.
func (a *App) Compute(ctx context.Context, opts ComputeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; observation cache disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, closeFetcher := a.newService(store, nil, a.newNotifier(), nil)
	defer closeFetcher()

	report, err := svc.ComputeAt(ctx, opts.EndBlock, opts.Stride)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, report.String())
	return nil
}

// Run executes the long-running computation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; cache and history disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New()
	}

	svc, closeFetcher := a.newService(store, sched, a.newNotifier(), m)
	defer closeFetcher()

	group, gctx := errgroup.WithContext(ctx)
	if m != nil {
		group.Go(func() error {
			return m.Serve(gctx, a.Config.Metrics.Listen, a.Logger)
		})
	}
	group.Go(func() error {
		a.Logger.Info().
			Dur("interval", a.Config.Scheduler.Interval).
			Int("window_days", a.Config.Yield.WindowDays).
			Int("stride", a.Config.Yield.Stride).
			Msg("starting yield service")
		return svc.Run(gctx)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("yield service stopped")
	return nil
}

// Migrate applies the SQL migrations found in database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot migrate")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.Migrate(ctx, pool, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "no migrations found")
	}
	return nil
}

// ComputeOptions configure a one-shot computation.
type ComputeOptions struct {
	// EndBlock of zero means the latest head block.
	EndBlock uint64
	// Stride of zero means yield.stride.
	Stride int
}

// ExportOptions hold parameters for exporting report history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	FromBlock uint64
	ToBlock   uint64
	Stride    int
	DryRun    bool
}

// SimulateOptions configure an offline computation over synthetic daily data.
type SimulateOptions struct {
	Values         []string
	Stride         int
	StartTimestamp uint64
	StartBlock     uint64
}
