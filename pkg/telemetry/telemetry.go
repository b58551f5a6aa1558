// Package telemetry installs OpenTelemetry providers. Only stdout exporters
// are supported; spans and metrics go to the configured writer.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Config enables tracing and OTel metrics.
type Config struct {
	Tracing bool `mapstructure:"tracing"`
	Metrics bool `mapstructure:"metrics"`
	// Writer defaults to stdout.
	Writer io.Writer `mapstructure:"-"`
}

// Setup installs the global providers and returns a function flushing and
// stopping them. With nothing enabled only the propagator is installed.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	if cfg.Tracing {
		tp, err := newTracerProvider(w)
		if err != nil {
			return shutdown, errors.Join(err, shutdown(ctx))
		}
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}
	if cfg.Metrics {
		mp, err := newMeterProvider(w)
		if err != nil {
			return shutdown, errors.Join(err, shutdown(ctx))
		}
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}
	return shutdown, nil
}

func newTracerProvider(w io.Writer) (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(trace.WithBatcher(exporter)), nil
}

func newMeterProvider(w io.Writer) (*metric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exporter))), nil
}
