package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/opnlabs/ferry/pkg/store"
)

// Report renders the run summary table. Step outcomes come from the run's
// outcome store, falling back to the in-memory step state.
func Report(job *Job, outcomes store.Store) string {
	rows := make([][]string, 0, len(job.Steps))
	for i, step := range job.Steps {
		status := string(step.Status)
		if outcomes != nil {
			if v, err := outcomes.Get(step.Package); err == nil {
				if recorded, ok := v.(string); ok {
					status = recorded
				}
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			step.Package,
			orDash(step.Version),
			status,
			formatDuration(step.Duration),
			formatDuration(step.Waited),
		})
	}
	return renderTable(
		[]string{"#", "PACKAGE", "VERSION", "STATUS", "DURATION", "WAITED"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

// PlanReport renders the publish order without running anything.
func PlanReport(job *Job) string {
	rows := make([][]string, 0, len(job.Steps))
	for i, step := range job.Steps {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			step.Package,
			orDash(step.Version),
			step.Manifest,
			formatDuration(step.Wait),
			orDash(strings.Join(step.Dependents, ", ")),
		})
	}
	return renderTable(
		[]string{"#", "PACKAGE", "VERSION", "MANIFEST", "WAIT", "AWAITED BY"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Millisecond).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
