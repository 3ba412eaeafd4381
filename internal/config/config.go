package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mrzor/latstat/internal/probe"
)

// ErrInvalidCapacity is returned by Validate for a non-positive table or channel size.
var ErrInvalidCapacity = errors.New("capacity must be positive")

// EngineConfig holds the start-time constants of the correlation engine.
type EngineConfig struct {
	CorrelationCapacity int           `env:"LATSTAT_CORRELATION_CAPACITY" envDefault:"10240"`
	AggregationCapacity int           `env:"LATSTAT_AGGREGATION_CAPACITY" envDefault:"10240"`
	ChannelCapacity     int           `env:"LATSTAT_CHANNEL_CAPACITY" envDefault:"4096"`
	Units               int           `env:"LATSTAT_UNITS" envDefault:"0"` // 0 means one per CPU
	DelayFloor          time.Duration `env:"LATSTAT_DELAY_FLOOR" envDefault:"1ms"`
	UsageFloor          uint64        `env:"LATSTAT_USAGE_FLOOR" envDefault:"80"`
}

// ParseEngineConfig reads the engine configuration from the environment.
func ParseEngineConfig() (*EngineConfig, error) {
	var cfg EngineConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	return &cfg, nil
}

// Validate checks capacities and thresholds.
func (c *EngineConfig) Validate() error {
	var errs []error
	if c.CorrelationCapacity < 1 {
		errs = append(errs, fmt.Errorf("correlation: %w", ErrInvalidCapacity))
	}
	if c.AggregationCapacity < 1 {
		errs = append(errs, fmt.Errorf("aggregation: %w", ErrInvalidCapacity))
	}
	if c.ChannelCapacity < 1 {
		errs = append(errs, fmt.Errorf("channel: %w", ErrInvalidCapacity))
	}
	if c.Units < 0 {
		errs = append(errs, fmt.Errorf("units must not be negative, got %d", c.Units))
	}
	if c.DelayFloor < 0 {
		errs = append(errs, fmt.Errorf("delay floor must not be negative, got %s", c.DelayFloor))
	}
	if c.UsageFloor > 100 {
		errs = append(errs, fmt.Errorf("usage floor must be within [0,100], got %d", c.UsageFloor))
	}
	return errors.Join(errs...)
}

// ResolvedUnits returns the number of execution units, defaulting to the CPU count.
func (c *EngineConfig) ResolvedUnits() int {
	if c.Units > 0 {
		return c.Units
	}
	return runtime.NumCPU()
}

// ProbeOptions converts the configuration into probe construction options.
func (c *EngineConfig) ProbeOptions(names probe.NameResolver) probe.Options {
	return probe.Options{
		CorrelationCapacity: c.CorrelationCapacity,
		AggregationCapacity: c.AggregationCapacity,
		ChannelCapacity:     c.ChannelCapacity,
		Units:               c.ResolvedUnits(),
		Threshold: probe.Threshold{
			DelayFloor: c.DelayFloor,
			UsageFloor: c.UsageFloor,
		},
		Names: names,
	}
}

// CustomAttribute is an extra span attribute computed from an event by an
// expression.
type CustomAttribute struct {
	Name       string
	Expression string
}

// ParseCustomAttribute parses a "name=expression" flag value.
func ParseCustomAttribute(s string) (CustomAttribute, error) {
	name, expression, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(expression) == "" {
		return CustomAttribute{}, fmt.Errorf("attribute must be name=expression, got %q", s)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}

// Config is the full runtime configuration of one latstat invocation.
type Config struct {
	Probe            string
	Engine           EngineConfig
	Interval         time.Duration
	PinDir           string
	Replay           string
	ProcRoot         string
	Filter           string
	MetricsAddr      string
	OTEL             bool
	LogLevel         string
	LogFormat        string
	CustomAttributes []CustomAttribute
}

// Validate checks the invocation-level settings and the engine configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Replay == "" && c.PinDir == "" {
		errs = append(errs, errors.New("either a pin directory or a replay file is required"))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
