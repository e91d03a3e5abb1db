// Package telemetry configures OpenTelemetry providers for spawnpool.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/coachpo/spawnpool/config"
)

// Provider owns the tracer and meter providers installed by Init.
type Provider struct {
	tracers  trace.TracerProvider
	meters   apimetric.MeterProvider
	exported bool
	closers  []func(context.Context) error
}

// Tracer returns a named tracer. A nil Provider hands out noop tracers.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tracers == nil {
		return nooptrace.NewTracerProvider().Tracer(name)
	}
	return p.tracers.Tracer(name)
}

// Meter returns a named meter. A nil Provider hands out noop meters.
func (p *Provider) Meter(name string) apimetric.Meter {
	if p == nil || p.meters == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return p.meters.Meter(name)
}

// Exporting reports whether spans and metrics leave the process.
func (p *Provider) Exporting() bool {
	return p != nil && p.exported
}

// Shutdown flushes and stops every exporter, most recently started first.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var failures []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		failures = append(failures, p.closers[i](ctx))
	}
	p.closers = nil
	return errors.Join(failures...)
}

// Init installs global tracer and meter providers tagged with the service
// name and env. An empty endpoint installs noop providers.
func Init(ctx context.Context, cfg config.TelemetryConfig, env config.Environment) (*Provider, error) {
	raw := strings.TrimSpace(cfg.OTLPEndpoint)
	if raw == "" {
		p := &Provider{
			tracers: nooptrace.NewTracerProvider(),
			meters:  noop.NewMeterProvider(),
		}
		otel.SetTracerProvider(p.tracers)
		otel.SetMeterProvider(p.meters)
		return p, nil
	}

	target, err := parseEndpoint(raw)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg.ServiceName, env)
	if err != nil {
		return nil, err
	}

	p := &Provider{exported: true}
	fail := func(err error) (*Provider, error) {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	spanExporter, err := otlptracehttp.New(ctx, target.traceOptions()...)
	if err != nil {
		return fail(fmt.Errorf("create trace exporter: %w", err))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRatio))),
	)
	p.tracers = tp
	p.closers = append(p.closers, tp.Shutdown)

	metricExporter, err := otlpmetrichttp.New(ctx, target.metricOptions()...)
	if err != nil {
		return fail(fmt.Errorf("create metric exporter: %w", err))
	}
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = config.DefaultExportInterval
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	p.meters = mp
	p.closers = append(p.closers, mp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

func newResource(ctx context.Context, service string, env config.Environment) (*resource.Resource, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "spawnpool"
	}
	attrs := resource.WithAttributes(
		semconv.ServiceName(service),
		semconv.DeploymentEnvironmentKey.String(string(env)),
	)
	res, err := resource.New(ctx, attrs, resource.WithTelemetrySDK())
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// endpoint is a collector address split into host and transport security.
type endpoint struct {
	host     string
	insecure bool
}

func (e endpoint) traceOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(e.host)}
	if e.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func (e endpoint) metricOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(e.host)}
	if e.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

// parseEndpoint accepts a URL or a bare host:port. Only https URLs use TLS.
func parseEndpoint(raw string) (endpoint, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	if parsed.Host == "" {
		host := strings.TrimSpace(raw)
		if host == "" {
			return endpoint{}, fmt.Errorf("parse otlp endpoint: empty host in %q", raw)
		}
		return endpoint{host: host, insecure: true}, nil
	}
	return endpoint{host: parsed.Host, insecure: parsed.Scheme != "https"}, nil
}
