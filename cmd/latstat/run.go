package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mrzor/latstat/internal/attributes"
	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/bpfloader"
	"github.com/mrzor/latstat/internal/config"
	"github.com/mrzor/latstat/internal/eventprocessor"
	"github.com/mrzor/latstat/internal/eventstream"
	"github.com/mrzor/latstat/internal/logutil"
	"github.com/mrzor/latstat/internal/metrics"
	"github.com/mrzor/latstat/internal/otel"
	"github.com/mrzor/latstat/internal/output"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/procmeta"
	"github.com/mrzor/latstat/internal/report"
	"github.com/mrzor/latstat/internal/timesync"
)

// run wires one probe between a record source and the reporter and blocks
// until ctx is cancelled or a replay file is exhausted.
func run(ctx context.Context, out io.Writer, cfg *config.Config, def probeDef) error {
	if err := logutil.InitLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	logger := logutil.GetLogger().With(zap.String("probe", def.name))
	defer func() { _ = logger.Sync() }() //nolint:errcheck // stderr sync fails on some terminals

	logger.Info("starting latstat",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Duration("interval", cfg.Interval),
		zap.Int("units", cfg.Engine.ResolvedUnits()))

	var names probe.NameResolver
	if m, err := procmeta.NewManager(cfg.ProcRoot, procmeta.DefaultMaxEntries); err != nil {
		logger.Warn("process names unavailable", zap.Error(err))
	} else {
		names = m
	}

	pr, err := def.build(cfg.Engine.ProbeOptions(names))
	if err != nil {
		return fmt.Errorf("creating %s probe: %w", def.name, err)
	}

	converter, err := timesync.NewConverter()
	if err != nil {
		return fmt.Errorf("failed to create time converter: %w", err)
	}
	if cu, ok := pr.(clockUser); ok {
		cu.SetConverter(converter)
	}

	if cfg.OTEL {
		cleanupOTEL, err := setupOTEL(pr, converter, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanupOTEL()
	}

	filter, err := report.NewFilter(cfg.Filter)
	if err != nil {
		return err
	}

	src, cleanupSource, err := openSource(cfg, pr, logger)
	if err != nil {
		return err
	}
	defer cleanupSource()

	processor := eventprocessor.NewProcessor(pr)
	stream := eventstream.New(src, processor, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsDone := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		srv, err := setupMetrics(cfg.MetricsAddr, stream, processor, pr, logger)
		if err != nil {
			return err
		}
		go func() { metricsDone <- srv.Serve(ctx) }()
	} else {
		metricsDone <- nil
	}

	streamDone := make(chan error, 1)
	go func() {
		err := stream.Run(ctx)
		logger.Debug("record stream finished", zap.Any("stats", stream.Stats()))
		// A finished replay or a dead source ends the run.
		cancel()
		streamDone <- err
	}()

	reportErr := report.New(out, cfg.Interval, filter, logger, pr).Run(ctx)
	cancel()

	return errors.Join(reportErr, <-streamDone, <-metricsDone)
}

func openSource(cfg *config.Config, pr probe.Probe, logger *zap.Logger) (eventstream.Source, func(), error) {
	if cfg.Replay != "" {
		src, err := eventstream.OpenReplay(cfg.Replay)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("replaying hook records", zap.String("file", cfg.Replay))
		return src, func() { _ = src.Close() }, nil //nolint:errcheck // read-only file
	}

	loader, err := bpfloader.New(cfg.PinDir, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := loader.Attach(bpf.Points(pr.Hooks())); err != nil {
		if closeErr := loader.Close(); closeErr != nil {
			logger.Error("closing loader after attach failure", zap.Error(closeErr))
		}
		return nil, nil, err
	}
	rd, err := loader.OpenRingBuffer()
	if err != nil {
		if closeErr := loader.Close(); closeErr != nil {
			logger.Error("closing loader after ring buffer open failure", zap.Error(closeErr))
		}
		return nil, nil, err
	}

	src := eventstream.NewRingBufferSource(rd)
	cleanup := func() {
		if err := src.Close(); err != nil {
			logger.Error("closing ring buffer", zap.Error(err))
		}
		if err := loader.Close(); err != nil {
			logger.Error("closing loader", zap.Error(err))
		}
	}
	logger.Info("tracing", zap.Int("hooks", len(loader.Attached())), zap.String("pin_dir", cfg.PinDir))
	return src, cleanup, nil
}

func setupOTEL(pr runnable, converter *timesync.Converter, cfg *config.Config, logger *zap.Logger) (func(), error) {
	emitter, ok := pr.(spanEmitter)
	if !ok {
		logger.Warn("probe reports aggregates only, no spans will be exported")
		return func() {}, nil
	}

	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	evaluator, err := attributes.NewEvaluator(cfg.CustomAttributes, logger)
	if err != nil {
		return nil, err
	}
	tp, err := otel.InitProvider(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	emitter.SetSink(output.NewOTELSink(tp.Tracer(otel.TracerName), converter, evaluator))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			logger.Error("shutting down OTEL provider", zap.Error(err))
		}
	}, nil
}

func setupMetrics(addr string, stream *eventstream.Stream, processor *eventprocessor.Processor, pr runnable, logger *zap.Logger) (*metrics.Server, error) {
	reg, err := metrics.NewRegistry(metrics.NewCollector(stream, processor, pr))
	if err != nil {
		return nil, err
	}
	return metrics.Listen(addr, reg, logger)
}
