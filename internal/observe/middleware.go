package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern claimed.
const unmatchedRoute = "unmatched"

// responseTracker remembers the status written through it and whether the
// connection was taken over by a websocket upgrade.
type responseTracker struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (rt *responseTracker) WriteHeader(code int) {
	rt.status = code
	rt.ResponseWriter.WriteHeader(code)
}

// Hijack hands the raw connection to the websocket library. The tracked
// status becomes 101 on success.
func (rt *responseTracker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rt.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer cannot be hijacked")
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, err
	}
	rt.upgraded = true
	rt.status = http.StatusSwitchingProtocols
	return conn, brw, nil
}

func (rt *responseTracker) Flush() {
	if f, ok := rt.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rt *responseTracker) Unwrap() http.ResponseWriter { return rt.ResponseWriter }

// probeRoutes log at debug level.
var probeRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// route returns the ServeMux pattern that served r. The mux records it on
// the request it was handed, so it is only known after the inner handler
// ran.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	return r.Pattern
}

// Middleware wraps a ServeMux with request tracing, metrics and a request
// log line.
//
// The incoming W3C trace context is continued when present. The trace id is
// echoed as X-Correlation-ID and the span context is injected into the
// response headers. Durations are recorded per mux pattern rather than per
// raw path, so /transcripts/{id} stays one series. A websocket session is
// one request whose duration spans the whole conversation.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rt := &responseTracker{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rt, r)
			elapsed := time.Since(start)

			rte := route(r)
			if rte != unmatchedRoute {
				span.SetName(rte)
				span.SetAttributes(semconv.HTTPRoute(rte))
			}
			span.SetAttributes(semconv.HTTPResponseStatusCode(rt.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", rte),
				attribute.Int("status", rt.status),
			))

			level := slog.LevelInfo
			if probeRoutes[rte] {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "http request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", rte),
				slog.Int("status", rt.status),
				slog.Bool("upgraded", rt.upgraded),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
