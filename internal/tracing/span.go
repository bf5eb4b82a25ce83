package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankreport/internal/measurement"
	"github.com/torosent/crankreport/internal/reporter"
)

// StartPublishSpan starts a span for delivering one measurement to a
// destination.
func StartPublishSpan(ctx context.Context, tracer trace.Tracer, destination string, m *measurement.Measurement) (context.Context, trace.Span) {
	spanName := "publish"
	if destination != "" {
		spanName = "publish " + destination
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	if destination != "" {
		span.SetAttributes(attribute.String("crankreport.destination", destination))
	}
	if m != nil {
		span.SetAttributes(
			attribute.Int64("crankreport.iteration", m.Iteration()),
			attribute.Int64("crankreport.percentage", m.Percentage()),
			attribute.Int64("crankreport.run_time_ms", m.Time().Milliseconds()),
		)
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ContextReporter is implemented by destinations that can carry a trace
// context into their own outgoing calls.
type ContextReporter interface {
	ReportContext(ctx context.Context, m *measurement.Measurement) error
}

// WrapDestination returns a destination that records a span around every
// Report. Destinations implementing ContextReporter receive the span context.
func WrapDestination(d reporter.Destination, tracer trace.Tracer) reporter.Destination {
	if tracer == nil {
		return d
	}
	name := ""
	if n, ok := d.(reporter.Named); ok {
		name = n.Name()
	}
	return &tracedDestination{inner: d, tracer: tracer, name: name}
}

type tracedDestination struct {
	inner  reporter.Destination
	tracer trace.Tracer
	name   string
}

func (t *tracedDestination) Name() string {
	if t.name == "" {
		return "traced"
	}
	return t.name
}

// Unwrap returns the destination being traced.
func (t *tracedDestination) Unwrap() reporter.Destination { return t.inner }

func (t *tracedDestination) Open() error { return t.inner.Open() }

func (t *tracedDestination) Close() error { return t.inner.Close() }

func (t *tracedDestination) Report(m *measurement.Measurement) error {
	ctx, span := StartPublishSpan(context.Background(), t.tracer, t.name, m)
	var err error
	if cr, ok := t.inner.(ContextReporter); ok {
		err = cr.ReportContext(ctx, m)
	} else {
		err = t.inner.Report(m)
	}
	EndSpan(span, err)
	return err
}
