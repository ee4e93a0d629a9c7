// Package observability provides OpenTelemetry tracing and RED metrics for
// pipeline runs: one span per run, one child span per stage, and counters
// of terminal run statuses.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Mindburn-Labs/mismo"

// Attribute keys.
const (
	AttrRunID     = attribute.Key("mismo.run_id")
	AttrDirection = attribute.Key("mismo.direction")
	AttrStage     = attribute.Key("mismo.stage")
	AttrPack      = attribute.Key("mismo.pack_id")
	AttrStatus    = attribute.Key("mismo.status")
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mismo-pipeline",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages trace and metric providers. A disabled Provider uses the
// global no-op implementations, so callers never need nil checks.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	stageCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	durationHist  metric.Float64Histogram
	activeRuns    metric.Int64UpDownCounter
	statusCounter metric.Int64Counter
}

// New creates a provider. When config.Enabled is false nothing is exported.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, p.bind(otel.GetTracerProvider(), otel.GetMeterProvider())
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}
	if err := p.bind(p.tracerProvider, p.meterProvider); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithProviders binds a provider to existing trace and metric providers.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{config: DefaultConfig(), logger: slog.Default().With("component", "observability")}
	if err := p.bind(tp, mp); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) bind(tp trace.TracerProvider, mp metric.MeterProvider) error {
	p.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
	p.meter = mp.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion))
	if err := p.initREDMetrics(); err != nil {
		return fmt.Errorf("failed to init RED metrics: %w", err)
	}
	return nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error
	if p.stageCounter, err = p.meter.Int64Counter("mismo.stage.executions",
		metric.WithDescription("Pipeline stages executed"),
		metric.WithUnit("{stage}"),
	); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("mismo.stage.errors",
		metric.WithDescription("Pipeline stages that ended in a system error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("mismo.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		return err
	}
	if p.activeRuns, err = p.meter.Int64UpDownCounter("mismo.runs.active",
		metric.WithDescription("Runs currently in progress"),
		metric.WithUnit("{run}"),
	); err != nil {
		return err
	}
	p.statusCounter, err = p.meter.Int64Counter("mismo.runs.total",
		metric.WithDescription("Finished runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// StartRun opens the run span. The returned function ends it with the
// terminal status.
func (p *Provider) StartRun(ctx context.Context, direction, runID, packID string) (context.Context, func(status string)) {
	attrs := []attribute.KeyValue{AttrDirection.String(direction), AttrPack.String(packID)}
	ctx, span := p.tracer.Start(ctx, "mismo."+direction,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, AttrRunID.String(runID))...),
	)
	p.activeRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, func(status string) {
		p.activeRuns.Add(ctx, -1, metric.WithAttributes(attrs...))
		p.statusCounter.Add(ctx, 1, metric.WithAttributes(append(attrs, AttrStatus.String(status))...))
		span.SetAttributes(AttrStatus.String(status))
		span.End()
	}
}

// TrackStage opens a stage span. The returned function records duration
// and, for a non-nil error, marks the span and counts the failure.
func (p *Provider) TrackStage(ctx context.Context, direction, stage string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{AttrDirection.String(direction), AttrStage.String(stage)}
	ctx, span := p.tracer.Start(ctx, "mismo."+direction+"."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.stageCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, func(err error) {
		p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		span.End()
	}
}
