package main

import (
	"context"
	"encoding/json"
	"exec_optimizer/internal/bootstrap"
	"exec_optimizer/internal/config"
	"exec_optimizer/internal/core"
	"exec_optimizer/internal/trading/fees"
	"exec_optimizer/pkg/feedclient"
	"exec_optimizer/pkg/liveserver"
	"exec_optimizer/pkg/logging"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Dotenv file exported before the config is read")
	signalPath := flag.String("signal", "", "Plan the signal in this JSON file (- for stdin), print the plan and exit")
	watchURL := flag.String("watch", "", "Print messages from the plan feed at this ws:// URL until interrupted")
	watchOrigin := flag.String("origin", "http://localhost:8080", "Origin header sent with -watch")
	seedFees := flag.String("seed-fees", "", "Write the active fee tables to this SQLite database and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("optimizer version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if *watchURL != "" {
		if err := watch(*watchURL, *watchOrigin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configPath = envConfig
	}

	if err := bootstrap.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = bootstrap.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	oneShot := *signalPath != "" || *seedFees != ""
	if oneShot {
		// logs share stdout with the plan
		cfg.System.LogLevel = "ERROR"
		cfg.Server.Enabled = false
		cfg.Execution.Enabled = false
		cfg.Telemetry.EnableMetrics = false
		cfg.Telemetry.EnableTracing = false
	}

	ctx := context.Background()
	app, err := bootstrap.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *seedFees != "":
		err = seed(ctx, app, *seedFees)
	case *signalPath != "":
		err = planSignal(app, *signalPath, os.Stdout)
	default:
		app.Logger.Info("Starting optimizer", "version", version, "build_time", buildTime)
		err = app.Run(ctx, app.Runners()...)
	}

	if closeErr := app.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func planSignal(app *bootstrap.App, path string, out io.Writer) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read signal: %w", err)
	}

	var signal core.Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return fmt.Errorf("parse signal: %w", err)
	}

	plan, err := app.Planners.Optimizer().CreateExecutionPlan(signal)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}

func seed(ctx context.Context, app *bootstrap.App, dbPath string) error {
	store, err := fees.NewSQLiteStore(dbPath, app.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	dir := app.Catalog.Current()
	if err := store.Save(ctx, dir); err != nil {
		return err
	}
	app.Logger.Info("Fee tables written", "path", dbPath, "version", dir.Version(), "exchanges", len(dir.Exchanges()))
	return nil
}

func watch(url, origin string, out io.Writer) error {
	logger, err := logging.NewZapLogger("WARN")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(out)
	client := feedclient.NewClient(url, origin, func(msg liveserver.Message) {
		if err := enc.Encode(msg); err != nil {
			logger.Warn("Failed to print feed message", "error", err)
		}
	}, logger)
	return client.Run(ctx)
}
