// Package observe holds the relay's telemetry: OTel instruments exported to
// Prometheus, spans whose trace ids double as correlation ids, a trace-aware
// slog helper and the HTTP middleware tying them to requests.
//
// Components fall back to [DefaultMetrics] when not given a [Metrics]. Tests
// build their own with [NewMetrics] on a private meter provider.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicelink metrics.
const meterName = "github.com/MrWong99/voicelink"

// Frame directions for [Metrics.RecordFrame].
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

// Metrics holds every OpenTelemetry instrument the application records.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// UpstreamConnectDuration tracks how long dialing the realtime provider
	// takes. Attribute: status.
	UpstreamConnectDuration metric.Float64Histogram

	// OrchestratorDuration tracks a full orchestrator invocation.
	// Attribute: status.
	OrchestratorDuration metric.Float64Histogram

	// --- Counters ---

	// FramesRelayed counts audio frames moved between client and provider.
	// Attribute: direction.
	FramesRelayed metric.Int64Counter

	// Reconfigures counts in-place session reconfigurations.
	// Attributes: mode ("live" or "rebuild"), status.
	Reconfigures metric.Int64Counter

	// PlaybackPreemptions counts playback units cut short by a newer unit.
	PlaybackPreemptions metric.Int64Counter

	// DecodeErrors counts dropped malformed wire messages. Attribute: source.
	DecodeErrors metric.Int64Counter

	// ProviderRequests counts request/response provider calls.
	// Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// SessionsRejected counts relay sessions refused at admission.
	// Attribute: reason.
	SessionsRejected metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for voice latencies.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// instruments creates instruments on one meter and keeps every error.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		UpstreamConnectDuration: in.seconds("voicelink.upstream.connect.duration",
			"Latency of establishing the upstream realtime session.", latencyBuckets),
		OrchestratorDuration: in.seconds("voicelink.orchestrator.duration",
			"Latency of one orchestrator invocation.", latencyBuckets),
		HTTPRequestDuration: in.seconds("voicelink.http.request.duration",
			"HTTP request latency by method, route and status.", nil),

		FramesRelayed:       in.counter("voicelink.frames.relayed", "Audio frames relayed by direction."),
		Reconfigures:        in.counter("voicelink.session.reconfigures", "In-place session reconfigurations by mode and status."),
		PlaybackPreemptions: in.counter("voicelink.playback.preemptions", "Playback units cut short by a newer unit."),
		DecodeErrors:        in.counter("voicelink.protocol.decode_errors", "Malformed wire messages dropped by source."),
		ProviderRequests:    in.counter("voicelink.provider.requests", "Request/response provider calls by provider, kind and status."),
		SessionsRejected:    in.counter("voicelink.sessions.rejected", "Relay sessions refused at admission by reason."),

		ActiveSessions: in.gauge("voicelink.active_sessions", "Number of live relay sessions."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Status maps an error onto the "status" attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordFrame counts one relayed audio frame.
func (m *Metrics) RecordFrame(ctx context.Context, direction string) {
	m.FramesRelayed.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordUpstreamConnect records the latency of an upstream dial.
func (m *Metrics) RecordUpstreamConnect(ctx context.Context, d time.Duration, err error) {
	m.UpstreamConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", Status(err))),
	)
}

// RecordReconfigure counts one reconfiguration attempt.
func (m *Metrics) RecordReconfigure(ctx context.Context, mode string, err error) {
	m.Reconfigures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordOrchestration records the latency of one orchestrator invocation.
func (m *Metrics) RecordOrchestration(ctx context.Context, d time.Duration, err error) {
	m.OrchestratorDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", Status(err))),
	)
}

// RecordPreemption counts one preempted playback unit.
func (m *Metrics) RecordPreemption(ctx context.Context) {
	m.PlaybackPreemptions.Add(ctx, 1)
}

// RecordDecodeError counts one dropped malformed message.
func (m *Metrics) RecordDecodeError(ctx context.Context, source string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordProviderRequest counts one provider call with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordSessionRejected counts one refused relay session.
func (m *Metrics) RecordSessionRejected(ctx context.Context, reason string) {
	m.SessionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
