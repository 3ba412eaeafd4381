package eventprocessor

import (
	"slices"
	"sync/atomic"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
)

// Stats counts routed and ignored records.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Ignored    uint64 `json:"ignored"`
}

// Processor routes records to probes by hook.
type Processor struct {
	routes map[bpf.Hook][]probe.Probe

	dispatched atomic.Uint64
	ignored    atomic.Uint64
}

// NewProcessor builds the route table from each probe's Hooks. A probe that
// lists a hook twice still receives each record once.
func NewProcessor(probes ...probe.Probe) *Processor {
	routes := make(map[bpf.Hook][]probe.Probe)
	for _, pr := range probes {
		for _, h := range pr.Hooks() {
			if slices.Contains(routes[h], pr) {
				continue
			}
			routes[h] = append(routes[h], pr)
		}
	}
	return &Processor{routes: routes}
}

// HandleRecord delivers rec to every probe subscribed to its hook. Records
// for other hooks are counted and dropped.
func (p *Processor) HandleRecord(rec *bpf.HookRecord) {
	targets := p.routes[rec.Hook]
	if len(targets) == 0 {
		p.ignored.Add(1)
		return
	}
	p.dispatched.Add(1)
	for _, pr := range targets {
		pr.Handle(rec)
	}
}

// Hooks returns every hook some probe subscribed to, in catalogue order.
func (p *Processor) Hooks() []bpf.Hook {
	out := make([]bpf.Hook, 0, len(p.routes))
	for h := range p.routes {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Stats returns the routing counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Dispatched: p.dispatched.Load(),
		Ignored:    p.ignored.Load(),
	}
}
