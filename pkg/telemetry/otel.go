package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	tracetype "go.opentelemetry.io/otel/trace"
)

// Exporter names where spans or log records are written
type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
)

// ParseExporter maps a config value to an Exporter. Empty means none.
func ParseExporter(s string) (Exporter, error) {
	switch Exporter(s) {
	case "", ExporterNone:
		return ExporterNone, nil
	case ExporterStdout:
		return ExporterStdout, nil
	default:
		return "", fmt.Errorf("unknown telemetry exporter %q", s)
	}
}

// Options selects the providers Setup installs
type Options struct {
	ServiceName string

	// Tracing installs a tracer provider. With Traces=none spans still carry
	// IDs for log correlation but are dropped.
	Tracing bool
	Traces  Exporter

	// Metrics installs the Prometheus reader and the plan instruments
	Metrics bool

	// Logs=stdout installs a log provider so the otelzap core emits records
	Logs Exporter

	PrettyPrint bool
	Writer      io.Writer // defaults to stdout
}

// Enabled reports whether Setup would install any provider
func (o Options) Enabled() bool {
	return o.Tracing || o.Metrics || o.Logs == ExporterStdout
}

// Telemetry owns the providers installed by Setup. Any of them may be nil.
type Telemetry struct {
	tp *trace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

// Setup installs the OTel providers opts asks for as globals
func Setup(opts Options) (*Telemetry, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "exec_optimizer"
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Telemetry{}

	if opts.Tracing {
		tpOpts := []trace.TracerProviderOption{trace.WithResource(res)}
		if opts.Traces == ExporterStdout {
			exOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
			if opts.PrettyPrint {
				exOpts = append(exOpts, stdouttrace.WithPrettyPrint())
			}
			traceExporter, err := stdouttrace.New(exOpts...)
			if err != nil {
				return nil, fmt.Errorf("failed to create trace exporter: %w", err)
			}
			tpOpts = append(tpOpts, trace.WithBatcher(traceExporter))
		}
		t.tp = trace.NewTracerProvider(tpOpts...)
		otel.SetTracerProvider(t.tp)
	}

	if opts.Metrics {
		metricExporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		t.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(metricExporter),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(t.mp)

		if err := GetGlobalMetrics().InitMetrics(t.mp.Meter(opts.ServiceName)); err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
	}

	if opts.Logs == ExporterStdout {
		exOpts := []stdoutlog.Option{stdoutlog.WithWriter(w)}
		if opts.PrettyPrint {
			exOpts = append(exOpts, stdoutlog.WithPrettyPrint())
		}
		logExporter, err := stdoutlog.New(exOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create log exporter: %w", err)
		}
		t.lp = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(t.lp)
	}

	return t, nil
}

// Shutdown flushes and stops the installed providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown failed: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown failed: %w", err))
		}
	}
	if t.lp != nil {
		if err := t.lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetMeter returns a meter for the given name
func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// GetTracer returns a tracer for the given name
func GetTracer(name string) tracetype.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
