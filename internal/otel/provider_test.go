package otel

import (
	"context"
	"time"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap/zaptest"

	"github.com/mrzor/latstat/internal/config"
)

func TestNewResource(t *testing.T) {
	cfg := &config.OTELConfig{ServiceName: "latstat-test", ResourceAttributes: "host=db1"}

	res, err := NewResource(context.Background(), cfg)
	require.NoError(t, err)

	set := res.Set()
	v, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "latstat-test", v.AsString())

	v, ok = set.Value(attribute.Key("host"))
	require.True(t, ok)
	assert.Equal(t, "db1", v.AsString())
}

func TestInitProvider_Shutdown(t *testing.T) {
	cfg := &config.OTELConfig{
		ServiceName:      "latstat",
		ExporterEndpoint: "127.0.0.1:4318",
		ExportTimeout:    time.Second,
		BatchTimeout:     time.Second,
		MaxQueueSize:     16,
	}

	tp, err := InitProvider(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, tp)

	assert.NoError(t, ShutdownProvider(context.Background(), tp))
	assert.NoError(t, ShutdownProvider(context.Background(), nil))
}
