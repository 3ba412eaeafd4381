package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mrzor/latstat/internal/probe"
)

// HealthSource is implemented by sources that expose engine counters.
type HealthSource interface {
	Health() probe.Health
}

// Reporter renders every source once per interval.
type Reporter struct {
	out      io.Writer
	interval time.Duration
	filter   *Filter
	sources  []Source
	logger   *zap.Logger
	now      func() time.Time

	lastDropped map[string]uint64
}

// New creates a Reporter writing to out.
func New(out io.Writer, interval time.Duration, filter *Filter, logger *zap.Logger, sources ...Source) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		out:         out,
		interval:    interval,
		filter:      filter,
		sources:     sources,
		logger:      logger,
		now:         time.Now,
		lastDropped: make(map[string]uint64),
	}
}

// Run reports every interval until ctx is done, then reports once more so
// nothing recorded before shutdown is lost.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.Tick()
		case <-ticker.C:
			if err := r.Tick(); err != nil {
				return err
			}
		}
	}
}

// Tick renders one snapshot of every source.
func (r *Reporter) Tick() error {
	stamp := r.now().Format("15:04:05")
	for _, src := range r.sources {
		t := src.Snapshot()
		if t.Title != "" {
			t.Title = fmt.Sprintf("%s [%s]", t.Title, stamp)
		}
		if _, err := Render(r.out, t, r.keep); err != nil {
			return fmt.Errorf("rendering %s: %w", src.Name(), err)
		}
		if hs, ok := src.(HealthSource); ok {
			r.checkHealth(src.Name(), hs.Health())
		}
	}
	return nil
}

func (r *Reporter) keep(row Row) bool {
	ok, err := r.filter.Match(row)
	if err != nil {
		r.logger.Warn("filter evaluation failed, keeping row", zap.Error(err))
		return true
	}
	return ok
}

func (r *Reporter) checkHealth(name string, h probe.Health) {
	dropped := h.Dropped()
	if prev := r.lastDropped[name]; dropped > prev {
		r.logger.Warn("observations lost",
			zap.String("probe", name),
			zap.Uint64("new", dropped-prev),
			zap.Uint64("total", dropped))
	}
	r.lastDropped[name] = dropped

	if ce := r.logger.Check(zap.DebugLevel, "engine health"); ce != nil {
		fields := []zap.Field{zap.String("probe", name)}
		for table, s := range h.Correlation {
			fields = append(fields, zap.Any("correlate."+table, s))
		}
		for table, s := range h.Aggregation {
			fields = append(fields, zap.Any("aggregate."+table, s))
		}
		for table, s := range h.Channel {
			fields = append(fields, zap.Any("emit."+table, s))
		}
		ce.Write(fields...)
	}
}
