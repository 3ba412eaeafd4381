package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Column describes one rendered column. Key names the Row field it shows and
// is also the variable name filters see.
type Column struct {
	Header string
	Key    string
	Format string // fmt verb; "%v" when empty
	// Text, when set, renders the cell from the whole row instead of Format.
	Text func(Row) string
}

// Row is one line of a table, keyed by Column.Key. Rows may carry fields that
// are not rendered so filters can use them.
type Row map[string]any

// Table is one interval's output of a Source.
type Table struct {
	Title   string
	Columns []Column
	Rows    []Row
	// Quiet suppresses the title and header when there are no rows.
	Quiet bool
}

// Source produces a table each reporting interval. Snapshot consumes what it
// reports: aggregates are reset and emitted events drained.
type Source interface {
	Name() string
	Snapshot() Table
}

// Render writes t to w as aligned columns, keeping only rows accepted by keep.
// A nil keep keeps every row. It returns the number of rows written.
func Render(w io.Writer, t Table, keep func(Row) bool) (int, error) {
	rows := t.Rows
	if keep != nil {
		rows = make([]Row, 0, len(t.Rows))
		for _, r := range t.Rows {
			if keep(r) {
				rows = append(rows, r)
			}
		}
	}
	if len(rows) == 0 && t.Quiet {
		return 0, nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	if t.Title != "" {
		if _, err := fmt.Fprintln(w, t.Title); err != nil {
			return 0, fmt.Errorf("writing title: %w", err)
		}
	}

	headers := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		headers[i] = c.Header
	}
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")+"\t"); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	cells := make([]string, len(t.Columns))
	for _, r := range rows {
		for i, c := range t.Columns {
			if c.Text != nil {
				cells[i] = c.Text(r)
			} else {
				cells[i] = formatCell(c, r[c.Key])
			}
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t"); err != nil {
			return 0, fmt.Errorf("writing row: %w", err)
		}
	}

	if err := tw.Flush(); err != nil {
		return 0, fmt.Errorf("flushing table: %w", err)
	}
	return len(rows), nil
}

func formatCell(c Column, v any) string {
	if v == nil {
		return "-"
	}
	format := c.Format
	if format == "" {
		format = "%v"
	}
	return fmt.Sprintf(format, v)
}
