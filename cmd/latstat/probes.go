package main

import (
	"errors"
	"fmt"

	"github.com/mrzor/latstat/internal/output"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/probes/ampstat"
	"github.com/mrzor/latstat/internal/probes/numafaults"
	"github.com/mrzor/latstat/internal/probes/scsinonrw"
	"github.com/mrzor/latstat/internal/probes/tcplatency"
	"github.com/mrzor/latstat/internal/probes/tcpttfb"
	"github.com/mrzor/latstat/internal/probes/tsastat"
	"github.com/mrzor/latstat/internal/probes/writestat"
	"github.com/mrzor/latstat/internal/report"
	"github.com/mrzor/latstat/internal/timesync"
)

// ErrUnknownProbe is returned for a probe name that is not built in.
var ErrUnknownProbe = errors.New("unknown probe")

// runnable is a probe that also reports.
type runnable interface {
	probe.Probe
	report.Source
}

// spanEmitter is implemented by probes whose events can be exported as spans.
type spanEmitter interface {
	SetSink(s output.Sink)
}

// clockUser is implemented by probes that print wall clock times.
type clockUser interface {
	SetConverter(c *timesync.Converter)
}

type probeDef struct {
	name  string
	short string
	build func(opts probe.Options) (runnable, error)
}

func wrap[P runnable](fn func(probe.Options) (P, error)) func(probe.Options) (runnable, error) {
	return func(opts probe.Options) (runnable, error) {
		p, err := fn(opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var probeDefs = []probeDef{
	{tcplatency.Name, "TCP receive queue and transmit stack latency outliers", wrap(tcplatency.New)},
	{tcpttfb.Name, "TCP handshake latency and time to first byte of outbound connections", wrap(tcpttfb.New)},
	{writestat.Name, "Synchronous vs buffered write latency per process", wrap(writestat.New)},
	{scsinonrw.Name, "Latency of SCSI commands other than READ and WRITE", wrap(scsinonrw.New)},
	{ampstat.Name, "Logical vs physical I/O bytes and amplification", wrap(ampstat.New)},
	{numafaults.Name, "Local vs remote NUMA hinting faults per process", wrap(numafaults.New)},
	{tsastat.Name, "Thread state analysis: run, sleep and disk time per thread", wrap(tsastat.New)},
}

func lookupProbe(name string) (probeDef, error) {
	for _, s := range probeDefs {
		if s.name == name {
			return s, nil
		}
	}
	return probeDef{}, fmt.Errorf("%w: %q", ErrUnknownProbe, name)
}
