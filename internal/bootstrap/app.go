// Package bootstrap wires configuration, fee sources, planners and servers
// into a runnable application
package bootstrap

import (
	"context"
	"errors"
	"exec_optimizer/internal/infrastructure/health"
	"exec_optimizer/internal/infrastructure/metrics"
	"exec_optimizer/internal/infrastructure/server"
	"exec_optimizer/internal/mock"
	"exec_optimizer/internal/trading/execution"
	"exec_optimizer/internal/trading/fees"
	"exec_optimizer/pkg/liveserver"
	"exec_optimizer/pkg/logging"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// App represents the application context and holds core dependencies
type App struct {
	Cfg      *Config
	Logger   *logging.ZapLogger
	Catalog  *fees.Catalog
	Planners *Planners
	Paper    *mock.PaperExchange
	Runner   *execution.Runner
	Hub      *liveserver.Hub
	Health   *health.HealthManager

	closers []func() error
}

// Runner is implemented by components that run until ctx is done
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// NewApp bootstraps every dependency named by cfg. On error everything
// created so far is closed.
func NewApp(ctx context.Context, cfg *Config) (app *App, err error) {
	shutdownTelemetry, err := InitTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		_ = shutdownTelemetry()
		return nil, fmt.Errorf("logger: %w", err)
	}

	app = &App{Cfg: cfg, Logger: logger}
	app.closers = append(app.closers, shutdownTelemetry)
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	source, err := app.feeSource()
	if err != nil {
		return nil, fmt.Errorf("fee source: %w", err)
	}

	app.Catalog, err = fees.NewCatalog(ctx, source, logger)
	if err != nil {
		return nil, fmt.Errorf("fee catalog: %w", err)
	}

	opts, err := OptimizerOptions(cfg.Optimizer)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	app.Planners, err = NewPlanners(app.Catalog.Current(), opts, logger)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	app.Hub = liveserver.NewHub(logger, liveserver.TypeFees)
	app.Catalog.OnChange(func(dir *fees.Directory) {
		if err := app.Planners.Rebuild(dir); err != nil {
			return
		}
		app.Hub.Publish(liveserver.TypeFees, map[string]interface{}{
			"version":   dir.Version(),
			"exchanges": dir.Exchanges(),
		})
	})

	app.Health = health.NewHealthManager(logger)
	app.Health.Register("fee_catalog", func() error {
		if app.Planners.Optimizer() == nil {
			return errors.New("no optimizer built")
		}
		return nil
	})

	if cfg.Execution.Enabled {
		app.Paper = mock.NewPaperExchange("paper")
		app.Runner = execution.NewRunner(app.Paper, execution.Config{
			MaxWorkers:       cfg.Execution.MaxWorkers,
			QueueSize:        cfg.Execution.QueueSize,
			RateLimit:        cfg.Execution.RateLimit,
			RateBurst:        cfg.Execution.RateBurst,
			PollInterval:     cfg.Execution.PollInterval,
			CancelTimeout:    cfg.Execution.CancelTimeout,
			QuantityDecimals: cfg.Execution.QuantityDecimals,
			Retry:            cfg.Execution.Retry,
		}, logger)
		app.closers = append(app.closers, func() error {
			app.Runner.Stop()
			return nil
		})
		app.Health.Register("plan_runner", app.Runner.CheckHealth)
	}

	logger.Info("Application bootstrapped",
		"exchange", cfg.Optimizer.Exchange,
		"strategy", cfg.Optimizer.Strategy,
		"fee_source", source.Name(),
		"execution", cfg.Execution.Enabled)

	return app, nil
}

func (a *App) feeSource() (fees.Source, error) {
	f := a.Cfg.Fees
	switch f.Source {
	case "", "builtin":
		return fees.NewStaticSource(a.Logger), nil
	case "yaml":
		return fees.NewYAMLSource(f.Path, a.Logger), nil
	case "sqlite":
		store, err := fees.NewSQLiteStore(f.Path, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "remote":
		return fees.NewRemoteSource(f.URL, f.Endpoint, f.APIKey.Reveal(), f.Timeout, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown fee source %q", f.Source)
	}
}

// Runners returns the long-running components enabled by the config
func (a *App) Runners() []Runner {
	runners := []Runner{
		RunnerFunc(func(ctx context.Context) error {
			return a.Catalog.Run(ctx, a.Cfg.Fees.RefreshInterval)
		}),
		a.Hub,
	}

	if a.Cfg.Server.Enabled {
		runners = append(runners, a.APIServer())
	}
	if a.Cfg.Telemetry.EnableMetrics && a.Cfg.Telemetry.MetricsPort > 0 {
		runners = append(runners, metrics.NewServer(a.Cfg.Telemetry.MetricsPort, a.Logger))
	}
	return runners
}

// APIServer builds the HTTP API with the plan feed mounted
func (a *App) APIServer() *server.Server {
	s := a.Cfg.Server
	deps := server.Deps{
		Planners:  a.Planners,
		Publisher: a.Hub,
		Health:    a.Health,
		Feed: liveserver.NewFeed(a.Hub, a.Logger, liveserver.FeedConfig{
			AllowedOrigins: s.AllowedOrigins,
			MaxConnections: s.MaxConnections,
			RateLimit:      s.ConnRateLimit,
			RateBurst:      s.ConnRateBurst,
			Production:     s.Production,
		}),
	}
	if a.Runner != nil {
		deps.Executor = a.Runner
		deps.Marks = a.Paper
	}

	return server.New(server.Options{
		Addr:            s.ListenAddr,
		ReadTimeout:     s.ReadTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		MaxBodyBytes:    s.MaxRequestBodyKB << 10,
	}, deps, a.Logger)
}

// Run starts the runners and blocks until a termination signal or the first
// runner failure
func (a *App) Run(ctx context.Context, runners ...Runner) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "runners", len(runners))
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close releases resources in reverse creation order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
