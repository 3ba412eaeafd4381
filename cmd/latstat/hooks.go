package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrzor/latstat/internal/bpf"
	"github.com/mrzor/latstat/internal/probe"
	"github.com/mrzor/latstat/internal/report"
)

var hookColumns = []report.Column{
	{Header: "PROBE", Key: "probe"},
	{Header: "HOOK", Key: "hook"},
	{Header: "KIND", Key: "kind"},
	{Header: "TARGET", Key: "target"},
}

// newHooksCmd lists the kernel hook points each probe needs pinned.
func newHooksCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "hooks [probe]",
		Short: "List the hook points each probe attaches to",
		Args:  cobra.MaximumNArgs(1),
		// Listing touches neither the kernel nor the environment.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, args []string) error {
			defs := probeDefs
			if len(args) == 1 {
				def, err := lookupProbe(args[0])
				if err != nil {
					return err
				}
				defs = []probeDef{def}
			}

			t := report.Table{Columns: hookColumns}
			for _, def := range defs {
				p, err := def.build(probe.DefaultOptions())
				if err != nil {
					return fmt.Errorf("creating %s probe: %w", def.name, err)
				}
				for _, hp := range bpf.Points(p.Hooks()) {
					t.Rows = append(t.Rows, report.Row{
						"probe":  def.name,
						"hook":   hp.Name,
						"kind":   hp.Kind.String(),
						"target": target(hp),
					})
				}
			}
			_, err := report.Render(out, t, nil)
			return err
		},
	}
}

func target(hp bpf.HookPoint) string {
	if hp.Group != "" {
		return hp.Group + ":" + hp.Symbol
	}
	return hp.Symbol
}
