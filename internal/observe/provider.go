package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "voicelink"

// ProviderConfig selects what [InitProvider] builds.
type ProviderConfig struct {
	ServiceName    string // defaults to "voicelink"
	ServiceVersion string

	// TraceExporter receives finished spans in batches. Nil keeps spans
	// in-process only, which still yields trace ids for correlation.
	TraceExporter sdktrace.SpanExporter

	// Registry backs the /metrics handler. Nil means a private registry
	// that also carries the Go runtime and process collectors.
	Registry *prometheus.Registry
}

// Provider owns the global meter and tracer providers installed by
// [InitProvider].
type Provider struct {
	Metrics *Metrics
	Handler http.Handler // Prometheus exposition

	closers []func(context.Context) error
}

// Shutdown flushes and stops the providers in reverse start order.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(p.closers) {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

// InitProvider installs an OTel meter provider exporting through Prometheus
// and a tracer provider, both as process globals, along with the W3C
// trace-context propagator.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}
	reg := cfg.Registry
	if reg == nil {
		reg = defaultRegistry()
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
	p := &Provider{
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		closers: []func(context.Context) error{mp.Shutdown},
	}
	if p.Metrics, err = NewMetrics(mp); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	p.closers = append(p.closers, tp.Shutdown)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return p, nil
}

func serviceResource(cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	// Schemaless so the merge never conflicts with the SDK's default schema.
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
}

func defaultRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
