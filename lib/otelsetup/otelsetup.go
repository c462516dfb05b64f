// Package otelsetup wires optional OpenTelemetry metrics and a slog log
// bridge for the boot-stage daemon. Unlike the teacher's lib/otel, this
// engine never exports spans or metrics off-box during boot (the boot
// network path isn't up yet when post-fs/post-fs-data run) — everything
// here stays in-process; no exporter or processor is configured.
package otelsetup

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls whether in-process telemetry is collected at all.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Provider holds the initialized meter and optional log bridge handler.
type Provider struct {
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Meter          metric.Meter
	LogHandler     slog.Handler
}

// Init sets up in-process OTel metrics and a log bridge. When disabled, the
// returned Provider has only Meter set (taken from the global meter
// provider); MeterProvider, LoggerProvider and LogHandler are nil.
func Init(ctx context.Context, cfg Config) (*Provider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return &Provider{
			Meter: otel.Meter(cfg.ServiceName),
		}, func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	loggerProvider := sdklog.NewLoggerProvider(sdklog.WithResource(res))

	otel.SetMeterProvider(meterProvider)

	provider := &Provider{
		MeterProvider:  meterProvider,
		LoggerProvider: loggerProvider,
		Meter:          meterProvider.Meter(cfg.ServiceName),
		LogHandler:     otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(loggerProvider)),
	}

	shutdown := func(ctx context.Context) error {
		if err := meterProvider.Shutdown(ctx); err != nil {
			return err
		}
		return loggerProvider.Shutdown(ctx)
	}

	return provider, shutdown, nil
}
