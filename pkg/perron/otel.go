package perron

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenTelemetryConfig holds configuration for OpenTelemetry tracing.
type OpenTelemetryConfig struct {
	// Tracer to use for creating spans
	Tracer trace.Tracer

	// SpanNameFormatter allows customizing the span name
	SpanNameFormatter func(*Request) string

	// Whether to record checkpoint events and phase attributes
	DetailedEvents bool
}

// WithOpenTelemetry returns an option that enables OpenTelemetry tracing.
func WithOpenTelemetry(config OpenTelemetryConfig) Option {
	if config.SpanNameFormatter == nil {
		config.SpanNameFormatter = func(req *Request) string {
			return fmt.Sprintf("HTTP %s %s", req.Method, req.ResolvedPath())
		}
	}

	return func(c *Client) {
		c.next = &otelDoer{
			next:   c.next,
			config: config,
			client: c,
		}
	}
}

// otelDoer wraps a Doer to record a client span per request.
type otelDoer struct {
	next   Doer
	config OpenTelemetryConfig
	client *Client
}

// Do implements Doer with OpenTelemetry tracing.
func (d *otelDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	spec, err := req.resolve(d.client.config)
	if err != nil {
		return d.next.Do(ctx, req)
	}

	start := d.client.clock.Now()
	ctx, span := d.config.Tracer.Start(ctx, d.config.SpanNameFormatter(spec),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("http.method", spec.Method),
			attribute.String("http.url", spec.URL()),
			attribute.String("http.scheme", strings.TrimSuffix(spec.Protocol, ":")),
			attribute.String("net.peer.name", spec.Hostname),
		),
	)
	defer span.End()

	resp, err := d.next.Do(ctx, req)

	var timings *Timings
	var phases *TimingPhases
	if resp != nil {
		span.SetAttributes(
			attribute.Int("http.status_code", resp.StatusCode),
			attribute.String("http.status_text", http.StatusText(resp.StatusCode)),
		)
		span.SetStatus(spanStatus(resp.StatusCode))
		timings, phases = resp.Timings, resp.Phases
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", fmt.Sprintf("%T", err)))
		if kind := KindOf(err); kind != 0 {
			span.SetAttributes(attribute.String("perron.fault", kind.String()))
		}
		if t, p, ok := TimingsOf(err); ok {
			timings, phases = &t, &p
		}
	}

	if d.config.DetailedEvents && timings != nil {
		for c := CheckpointSocket; c <= CheckpointEnd; c++ {
			if v, ok := timings.Get(c); ok {
				span.AddEvent(c.String(), trace.WithTimestamp(start.Add(v)))
			}
		}
		setPhaseAttributes(span, phases)
	}

	return resp, err
}

func setPhaseAttributes(span trace.Span, p *TimingPhases) {
	if p == nil {
		return
	}
	if p.Wait != nil {
		span.SetAttributes(attribute.Int64("http.wait_ms", p.Wait.Milliseconds()))
	}
	if p.DNS != nil {
		span.SetAttributes(attribute.Int64("http.dns_ms", p.DNS.Milliseconds()))
	}
	if p.TCP != nil {
		span.SetAttributes(attribute.Int64("http.tcp_ms", p.TCP.Milliseconds()))
	}
	if p.FirstByte != nil {
		span.SetAttributes(attribute.Int64("http.first_byte_ms", p.FirstByte.Milliseconds()))
	}
	if p.Download != nil {
		span.SetAttributes(attribute.Int64("http.download_ms", p.Download.Milliseconds()))
	}
	if p.Total != nil {
		span.SetAttributes(attribute.Int64("http.duration_ms", p.Total.Milliseconds()))
	}
}

// spanStatus converts an HTTP status code to an OpenTelemetry status.
func spanStatus(statusCode int) (codes.Code, string) {
	if statusCode < 400 {
		return codes.Ok, ""
	}
	return codes.Error, http.StatusText(statusCode)
}

// SimpleOpenTelemetryConfig creates an OpenTelemetry configuration with
// detailed events enabled.
func SimpleOpenTelemetryConfig(tracer trace.Tracer) OpenTelemetryConfig {
	return OpenTelemetryConfig{
		Tracer:         tracer,
		DetailedEvents: true,
	}
}
