package bootstrap

import (
	"context"
	"exec_optimizer/pkg/logging"
	"exec_optimizer/pkg/telemetry"
	"time"
)

// InitTelemetry installs the OTel providers the telemetry section asks for.
// The returned shutdown is never nil.
func InitTelemetry(cfg *Config) (func() error, error) {
	noop := func() error { return nil }

	opts, err := TelemetryOptions(cfg)
	if err != nil || !opts.Enabled() {
		return noop, err
	}

	t, err := telemetry.Setup(opts)
	if err != nil {
		return noop, err
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.Shutdown(ctx)
	}, nil
}

// TelemetryOptions maps the telemetry section onto provider options
func TelemetryOptions(cfg *Config) (telemetry.Options, error) {
	traces, err := telemetry.ParseExporter(cfg.Telemetry.TraceExporter)
	if err != nil {
		return telemetry.Options{}, err
	}
	logs, err := telemetry.ParseExporter(cfg.Telemetry.LogExporter)
	if err != nil {
		return telemetry.Options{}, err
	}
	return telemetry.Options{
		ServiceName: cfg.System.ServiceName,
		Tracing:     cfg.Telemetry.EnableTracing,
		Traces:      traces,
		Metrics:     cfg.Telemetry.EnableMetrics,
		Logs:        logs,
		PrettyPrint: cfg.Telemetry.PrettyPrint,
	}, nil
}

// InitLogger creates the zap logger. It must run after InitTelemetry so the
// otelzap core picks up the installed log provider.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	return logging.NewZapLogger(cfg.System.LogLevel)
}
