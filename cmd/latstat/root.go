package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrzor/latstat/internal/bpfloader"
	"github.com/mrzor/latstat/internal/config"
)

// engineFlags holds capacity and threshold overrides. Flags that are not set
// leave the environment value in place.
type engineFlags struct {
	correlationCapacity int
	aggregationCapacity int
	channelCapacity     int
	units               int
	delayFloor          time.Duration
	usageFloor          uint64
}

func (f *engineFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.IntVar(&f.correlationCapacity, "correlation-capacity", 10240, "slots per correlation table")
	fs.IntVar(&f.aggregationCapacity, "aggregation-capacity", 10240, "buckets per execution unit in aggregation stores")
	fs.IntVar(&f.channelCapacity, "channel-capacity", 4096, "events buffered between reports")
	fs.IntVar(&f.units, "units", 0, "execution units (0 = one per CPU)")
	fs.DurationVar(&f.delayFloor, "delay-floor", time.Millisecond, "emit latency events only above this delay")
	fs.Uint64Var(&f.usageFloor, "usage-floor", 80, "emit receive latency events only above this buffer usage percent")
}

func (f *engineFlags) apply(cmd *cobra.Command, e *config.EngineConfig) {
	fs := cmd.Flags()
	if fs.Changed("correlation-capacity") {
		e.CorrelationCapacity = f.correlationCapacity
	}
	if fs.Changed("aggregation-capacity") {
		e.AggregationCapacity = f.aggregationCapacity
	}
	if fs.Changed("channel-capacity") {
		e.ChannelCapacity = f.channelCapacity
	}
	if fs.Changed("units") {
		e.Units = f.units
	}
	if fs.Changed("delay-floor") {
		e.DelayFloor = f.delayFloor
	}
	if fs.Changed("usage-floor") {
		e.UsageFloor = f.usageFloor
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	cfg := &config.Config{}
	var (
		engine     engineFlags
		attributes []string
	)

	root := &cobra.Command{
		Use:   "latstat",
		Short: "Low-overhead kernel latency and time-in-state statistics",
		Long: `latstat attaches small programs to kernel hook points, correlates the ` +
			`start and end of each operation and reports latency outliers, ` +
			`aggregated throughput and per-thread time in state at a fixed interval. ` +
			`Engine capacities and thresholds can also be set with LATSTAT_* environment variables.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			e, err := config.ParseEngineConfig()
			if err != nil {
				return err
			}
			engine.apply(cmd, e)
			cfg.Engine = *e

			cfg.CustomAttributes = cfg.CustomAttributes[:0]
			for _, a := range attributes {
				ca, err := config.ParseCustomAttribute(a)
				if err != nil {
					return err
				}
				cfg.CustomAttributes = append(cfg.CustomAttributes, ca)
			}
			return nil
		},
	}
	root.SetOut(out)

	fs := root.PersistentFlags()
	fs.DurationVarP(&cfg.Interval, "interval", "i", time.Second, "reporting interval")
	fs.StringVar(&cfg.PinDir, "pin-dir", bpfloader.DefaultPinDir, "directory holding the pinned hook programs and ring buffer")
	fs.StringVar(&cfg.Replay, "replay", "", "read hook records from a JSON lines file instead of the kernel")
	fs.StringVar(&cfg.ProcRoot, "proc-root", "/proc", "procfs mount used to resolve process names")
	fs.StringVarP(&cfg.Filter, "filter", "f", "", "only report rows matching this expression, e.g. 'delay_us > 5000'")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&cfg.OTEL, "otel", false, "export emitted events as OpenTelemetry spans")
	fs.StringArrayVar(&attributes, "attribute", nil, "extra span attribute as name=expression (repeatable)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", "console", "log format (console, json)")
	engine.register(root)

	for _, def := range probeDefs {
		root.AddCommand(newProbeCmd(out, cfg, def))
	}
	root.AddCommand(newHooksCmd(out))

	return root
}

func newProbeCmd(out io.Writer, cfg *config.Config, def probeDef) *cobra.Command {
	return &cobra.Command{
		Use:   def.name,
		Short: def.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Probe = def.name
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), out, cfg, def)
		},
	}
}
