package output

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/latstat/internal/attributes"
	"github.com/mrzor/latstat/internal/timesync"
)

// Span is an emitted event in exportable form.
type Span struct {
	Name       string
	Kind       trace.SpanKind
	Start      uint64 // monotonic nanoseconds
	End        uint64 // monotonic nanoseconds
	Attributes []attribute.KeyValue
	// Fields are the event's report fields, used by custom attribute expressions.
	Fields map[string]any
	Failed bool
	Status string
}

// Sink receives spans for every drained event.
type Sink interface {
	Export(spans []Span)
}

// OTELSink turns spans into OpenTelemetry spans with explicit timestamps.
type OTELSink struct {
	tracer    trace.Tracer
	converter *timesync.Converter
	custom    *attributes.Evaluator
}

// NewOTELSink creates a sink. custom may be nil.
func NewOTELSink(tracer trace.Tracer, converter *timesync.Converter, custom *attributes.Evaluator) *OTELSink {
	return &OTELSink{
		tracer:    tracer,
		converter: converter,
		custom:    custom,
	}
}

// Export starts and ends one span per entry.
func (s *OTELSink) Export(spans []Span) {
	ctx := context.Background()
	for i := range spans {
		sp := &spans[i]

		attrs := sp.Attributes
		if extra := s.custom.Evaluate(sp.Fields); len(extra) > 0 {
			attrs = append(attrs[:len(attrs):len(attrs)], extra...)
		}

		_, span := s.tracer.Start(ctx, sp.Name,
			trace.WithSpanKind(sp.Kind),
			trace.WithTimestamp(s.converter.MonotonicToWallClock(sp.Start)),
			trace.WithAttributes(attrs...),
		)
		if sp.Failed {
			span.SetStatus(codes.Error, sp.Status)
		} else {
			span.SetStatus(codes.Ok, sp.Status)
		}
		span.End(trace.WithTimestamp(s.converter.MonotonicToWallClock(sp.End)))
	}
}
