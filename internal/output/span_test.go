package output

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/latstat/internal/attributes"
	"github.com/mrzor/latstat/internal/config"
	"github.com/mrzor/latstat/internal/timesync"
)

func newTestSink(t *testing.T, custom *attributes.Evaluator) (*OTELSink, *tracetest.InMemoryExporter, time.Time) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	boot := time.Unix(1_700_000_000, 0)
	return NewOTELSink(tp.Tracer("test"), timesync.NewConverterAt(boot), custom), exporter, boot
}

func TestOTELSink_Export(t *testing.T) {
	sink, exporter, boot := newTestSink(t, nil)

	sink.Export([]Span{{
		Name:       "tcp.rx_latency",
		Kind:       trace.SpanKindInternal,
		Start:      1_000_000,
		End:        3_000_000,
		Attributes: []attribute.KeyValue{attribute.Int("process.pid", 7)},
	}})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "tcp.rx_latency", s.Name)
	assert.True(t, s.StartTime.Equal(boot.Add(time.Millisecond)))
	assert.True(t, s.EndTime.Equal(boot.Add(3*time.Millisecond)))
	assert.Equal(t, codes.Ok, s.Status.Code)
	assert.Contains(t, s.Attributes, attribute.Int("process.pid", 7))
}

func TestOTELSink_FailedAndCustom(t *testing.T) {
	custom, err := attributes.NewEvaluator([]config.CustomAttribute{
		{Name: "latstat.opname", Expression: `opname`},
	}, nil)
	require.NoError(t, err)
	sink, exporter, _ := newTestSink(t, custom)

	base := []attribute.KeyValue{attribute.Int("scsi.opcode", 0x35)}
	sink.Export([]Span{{
		Name:       "scsi.command",
		Start:      10,
		End:        20,
		Attributes: base,
		Fields:     map[string]any{"opname": "SYNCHRONIZE_CACHE"},
		Failed:     true,
		Status:     "FAILED",
	}})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "FAILED", spans[0].Status.Description)
	assert.Contains(t, spans[0].Attributes, attribute.String("latstat.opname", "SYNCHRONIZE_CACHE"))
	assert.Len(t, base, 1, "caller attributes are not modified")
}
