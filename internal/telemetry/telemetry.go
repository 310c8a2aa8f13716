package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider owns the tracer and meter used by the analysis pipeline and
// the HTTP layer. A nil *Provider behaves like Noop.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	requests      metric.Int64Counter
	failClosed    metric.Int64Counter
	duration      metric.Float64Histogram
	policyMatches metric.Int64Counter

	shutdown []func(context.Context) error
}

// NewProvider installs OTLP trace and metric exporters for cfg.Endpoint and
// registers them globally. A disabled config yields Noop.
func NewProvider(ctx context.Context, cfg Config, log *zap.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	spans, metrics, err := newExporters(ctx, strings.ToLower(strings.TrimSpace(cfg.Protocol)), cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics)),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	log.Info("telemetry enabled", zap.String("protocol", cfg.Protocol), zap.String("endpoint", cfg.Endpoint))

	p := &Provider{
		Enabled:  true,
		tracer:   tp.Tracer("apiguard"),
		meter:    mp.Meter("apiguard"),
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}
	p.initInstruments()
	return p, nil
}

func newExporters(ctx context.Context, protocol, endpoint string) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	var (
		spans   sdktrace.SpanExporter
		metrics sdkmetric.Exporter
		err     error
	)
	switch protocol {
	case "", "grpc":
		if spans, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure()); err == nil {
			metrics, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		}
	case "http":
		if spans, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure()); err == nil {
			metrics, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		}
	default:
		return nil, nil, fmt.Errorf("telemetry: unsupported protocol %q", protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: otlp %s exporter: %w", protocol, err)
	}
	return spans, metrics, nil
}

// Noop returns a provider whose tracer and meter discard everything.
func Noop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// initInstruments leaves an instrument nil when the meter rejects it;
// RecordAnalysis skips nil instruments.
func (p *Provider) initInstruments() {
	p.requests, _ = p.meter.Int64Counter("apiguard_requests_total",
		metric.WithDescription("Analyses answered, fail-closed ones included."))
	p.failClosed, _ = p.meter.Int64Counter("apiguard_fail_closed_total",
		metric.WithDescription("Analyses answered with the conservative outcome."))
	p.duration, _ = p.meter.Float64Histogram("apiguard_request_duration_ms",
		metric.WithDescription("Analysis latency."), metric.WithUnit("ms"))
	p.policyMatches, _ = p.meter.Int64Counter("apiguard_policy_matches_total",
		metric.WithDescription("Stored policies matched by analysis verdicts."))
}

func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// AnalysisMetrics describes one finished analysis for metric recording.
type AnalysisMetrics struct {
	Route         string
	ProjectID     string
	Threat        bool
	Sensitive     bool
	Urgency       bool
	FailClosed    bool
	PolicyMatches int
	DurationMs    float64
}

// RecordAnalysis emits counters/histograms with safe labels.
func (p *Provider) RecordAnalysis(ctx context.Context, m AnalysisMetrics) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	labels := SafeAttributes(map[string]any{
		"apiguard.route":       m.Route,
		"apiguard.project_id":  m.ProjectID,
		"apiguard.threat":      m.Threat,
		"apiguard.sensitive":   m.Sensitive,
		"apiguard.urgency":     m.Urgency,
		"apiguard.fail_closed": m.FailClosed,
	})
	opt := metric.WithAttributes(labels...)
	if p.requests != nil {
		p.requests.Add(ctx, 1, opt)
	}
	if p.duration != nil {
		p.duration.Record(ctx, m.DurationMs, opt)
	}
	if m.FailClosed && p.failClosed != nil {
		p.failClosed.Add(ctx, 1, opt)
	}
	if m.PolicyMatches > 0 && p.policyMatches != nil {
		p.policyMatches.Add(ctx, int64(m.PolicyMatches), opt)
	}
}
