// Package telemetry instruments the pipeline itself with OpenTelemetry:
// traces, metrics and a structured slog logger. It is unrelated to the
// visitor telemetry the pipeline collects.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Environment variables controlling export.
const (
	EnvEndpoint = "VISITOR_TELEMETRY_OTEL_ENDPOINT"
	EnvEnabled  = "VISITOR_TELEMETRY_OTEL_ENABLED"
	EnvLogLevel = "VISITOR_TELEMETRY_LOG_LEVEL"
)

const instrumentationName = "github.com/nathannam/visitor-telemetry"

var (
	mu          sync.RWMutex
	serviceName = "visitor-telemetry"
	logger      = newConsoleLogger()
)

// SetupInstrumentation initialises OpenTelemetry for the given service.
//
// Export is opt-in: without VISITOR_TELEMETRY_OTEL_ENDPOINT (or with
// VISITOR_TELEMETRY_OTEL_ENABLED=false) only the console logger is installed
// and the returned cleanup is a no-op. The cleanup flushes pending spans,
// metrics and logs and should be deferred by the caller.
func SetupInstrumentation(name string) func() {
	mu.Lock()
	serviceName = name
	logger = newConsoleLogger().With("service", name)
	mu.Unlock()

	noopCleanup := func() {}
	if strings.EqualFold(os.Getenv(EnvEnabled), "false") {
		return noopCleanup
	}
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		return noopCleanup
	}

	ctx := context.Background()
	shutdown, err := setupProviders(ctx, name, endpoint)
	if err != nil {
		GetLogger().Error("OpenTelemetry setup failed, continuing without export",
			"endpoint", endpoint,
			"error", err)
		return noopCleanup
	}
	GetLogger().Info("OpenTelemetry export enabled", "endpoint", endpoint)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("OpenTelemetry shutdown failed", "error", err)
		}
	}
}

func setupProviders(ctx context.Context, name, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, errors.Join(err, tracerProvider.Shutdown(ctx))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	logExporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, errors.Join(err, tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	global.SetLoggerProvider(loggerProvider)

	mu.Lock()
	logger = otelslog.NewLogger(instrumentationName, otelslog.WithLoggerProvider(loggerProvider))
	mu.Unlock()

	return func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
			loggerProvider.Shutdown(ctx),
		)
	}, nil
}

// GetLogger returns the pipeline's structured logger.
func GetLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// GetTracer returns a tracer from the global provider.
func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// GetMeter returns a meter from the global provider.
func GetMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Counter creates an Int64Counter, falling back to a no-op counter when the
// instrument cannot be registered.
func Counter(name, description string) metric.Int64Counter {
	counter, err := GetMeter().Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		GetLogger().Warn("Failed to create counter", "name", name, "error", err)
		counter, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return counter
}

// ServiceName returns the name passed to SetupInstrumentation.
func ServiceName() string {
	mu.RLock()
	defer mu.RUnlock()
	return serviceName
}

func newConsoleLogger() *slog.Logger {
	level := slog.LevelInfo
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		_ = level.UnmarshalText([]byte(raw))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
