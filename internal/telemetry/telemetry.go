package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	runCounter       metric.Int64Counter
	runDuration      metric.Float64Histogram
	techniqueCounter metric.Int64Counter
	layerCounter     metric.Int64Counter
}

func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", logger.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := newTelemetry(otel.Meter(cfg.ServiceName))
	if err != nil {
		return nil, err
	}
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.tracerProvider = tp
	return t, nil
}

func newTelemetry(meter metric.Meter) (*telemetry, error) {
	runCounter, err := meter.Int64Counter("attackmap.runs.total",
		metric.WithDescription("Total number of analysis runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram("attackmap.run.duration",
		metric.WithDescription("Analysis run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	techniqueCounter, err := meter.Int64Counter("attackmap.techniques.analyzed",
		metric.WithDescription("Techniques annotated with statistics"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	layerCounter, err := meter.Int64Counter("attackmap.layers.built",
		metric.WithDescription("Heat map layers built"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		meter:            meter,
		runCounter:       runCounter,
		runDuration:      runDuration,
		techniqueCounter: techniqueCounter,
		layerCounter:     layerCounter,
	}, nil
}

func (t *telemetry) RecordRun(ctx context.Context, duration time.Duration, techniques int, err error) {
	attrs := metric.WithAttributes(attribute.Bool("run.success", err == nil))

	t.runCounter.Add(ctx, 1, attrs)
	t.runDuration.Record(ctx, duration.Seconds(), attrs)
	if err == nil {
		t.techniqueCounter.Add(ctx, int64(techniques))
	}
}

func (t *telemetry) RecordLayer(ctx context.Context, dim attack.Dimension, techniques int) {
	t.layerCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("layer.dimension", string(dim)),
		attribute.Int("layer.techniques", techniques),
	))
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	if t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

// NewNoop returns a Telemetry that records nothing
func NewNoop() core.Telemetry { return noopTelemetry{} }

func (noopTelemetry) RecordRun(context.Context, time.Duration, int, error) {}
func (noopTelemetry) RecordLayer(context.Context, attack.Dimension, int)   {}
func (noopTelemetry) Shutdown(context.Context) error                       { return nil }
