// Package telemetry wires the OpenTelemetry tracer and meter providers.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name on every span and metric.
const ServiceName = "ebbo-monitor"

type Config struct {
	Tracing        bool
	Metrics        bool
	MetricInterval time.Duration
	// Writer receives the exported telemetry. Defaults to stdout.
	Writer io.Writer
}

// Setup installs global providers and returns a function flushing and stopping them.
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

	var err error
	handleErr := func(inErr error) {
		err = errors.Join(inErr, shutdown(ctx))
	}

	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))

	otel.SetTextMapPropagator(newPropagator())

	if cfg.Tracing {
		tracerProvider, tpErr := newTracerProvider(cfg.Writer, res)
		if tpErr != nil {
			handleErr(tpErr)
			return shutdown, err
		}
		shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
		otel.SetTracerProvider(tracerProvider)
	}

	if cfg.Metrics {
		meterProvider, mpErr := newMeterProvider(cfg.Writer, res, cfg.MetricInterval)
		if mpErr != nil {
			handleErr(mpErr)
			return shutdown, err
		}
		shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	return shutdown, err
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newTracerProvider(w io.Writer, res *resource.Resource) (*trace.TracerProvider, error) {
	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tracerProvider := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(traceExporter,
			trace.WithBatchTimeout(5*time.Second)),
	)
	return tracerProvider, nil
}

func newMeterProvider(w io.Writer, res *resource.Resource, interval time.Duration) (*metric.MeterProvider, error) {
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Minute
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(interval))),
	)
	return meterProvider, nil
}
