// Package telemetry installs the OpenTelemetry providers used for pipeline
// spans and run counters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/theblitlabs/misuse-detection/internal/config"
)

// InstrumentationName scopes the tracer and meter used by the pipeline.
const InstrumentationName = "misuse-detection/pipeline"

const (
	dialTimeout     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Shutdown flushes and stops the providers set up by InitTelemetry.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// InitTelemetry installs global OTLP trace and metric providers. When
// telemetry is disabled or the collector cannot be reached the global no-op
// providers stay in place and the run continues without telemetry.
func InitTelemetry(ctx context.Context, cfg config.TelemetryConfig, log zerolog.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	log = log.With().Str("component", "telemetry").Logger()

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.OTELCollector.Host, cfg.OTELCollector.Port)
	log = log.With().Str("collector", addr).Logger()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Warn().Err(err).Msg("Collector unreachable, continuing without telemetry")
		return noop, nil
	}

	tp, err := tracerProvider(ctx, conn, res)
	if err != nil {
		log.Warn().Err(err).Msg("Continuing without telemetry")
		conn.Close()
		return noop, nil
	}
	mp, err := meterProvider(ctx, conn, res, cfg.Metrics.Interval)
	if err != nil {
		log.Warn().Err(err).Msg("Continuing without telemetry")
		_ = tp.Shutdown(ctx)
		conn.Close()
		return noop, nil
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	log.Info().Msg("Telemetry initialized")

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("collector connection: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func tracerProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func meterProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
	), nil
}

// Tracer returns the pipeline tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
