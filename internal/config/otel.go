package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/attribute"
)

const defaultOTLPEndpoint = "localhost:4318"

// OTELConfig configures span export of emitted events. The OTEL_* variables
// follow the OpenTelemetry SDK conventions; batching is tuned with LATSTAT_OTEL_*.
type OTELConfig struct {
	ServiceName        string `env:"OTEL_SERVICE_NAME" envDefault:"latstat"`
	ResourceAttributes string `env:"OTEL_RESOURCE_ATTRIBUTES"`
	ExporterEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracesEndpoint     string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`

	ExportTimeout time.Duration `env:"LATSTAT_OTEL_EXPORT_TIMEOUT" envDefault:"10s"`
	BatchTimeout  time.Duration `env:"LATSTAT_OTEL_BATCH_TIMEOUT" envDefault:"5s"`
	MaxQueueSize  int           `env:"LATSTAT_OTEL_MAX_QUEUE_SIZE" envDefault:"2048"`
}

// ParseOTELConfig reads the span export configuration from the environment.
func ParseOTELConfig() (*OTELConfig, error) {
	var cfg OTELConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects batching settings the exporter cannot use.
func (c *OTELConfig) Validate() error {
	var errs []error
	if c.ExportTimeout <= 0 {
		errs = append(errs, fmt.Errorf("export timeout must be positive, got %s", c.ExportTimeout))
	}
	if c.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("batch timeout must be positive, got %s", c.BatchTimeout))
	}
	if c.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("max queue size: %w", ErrInvalidCapacity))
	}
	return errors.Join(errs...)
}

// Endpoint returns the trace collector address. The traces specific variable
// wins over the generic one.
func (c *OTELConfig) Endpoint() string {
	switch {
	case c.TracesEndpoint != "":
		return c.TracesEndpoint
	case c.ExporterEndpoint != "":
		return c.ExporterEndpoint
	default:
		return defaultOTLPEndpoint
	}
}

// ResourceAttrs parses OTEL_RESOURCE_ATTRIBUTES ("k1=v1,k2=v2"). Pairs
// without a key are skipped.
func (c *OTELConfig) ResourceAttrs() []attribute.KeyValue {
	if c.ResourceAttributes == "" {
		return nil
	}

	var attrs []attribute.KeyValue
	for _, pair := range strings.Split(c.ResourceAttributes, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			attrs = append(attrs, attribute.String(key, strings.TrimSpace(value)))
		}
	}
	return attrs
}
