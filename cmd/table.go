package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
)

// renderReport lays a discovery report out as a table of per-source outcomes
// followed by the run totals.
func renderReport(report discovery.Report) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.SetTitle(fmt.Sprintf("run %s (%s)", report.RunID, report.Status))
	tw.AppendHeader(table.Row{"Source", "Items", "Duration", "Error"})
	for _, s := range report.Sources {
		tw.AppendRow(table.Row{
			s.Source,
			strconv.Itoa(s.Items),
			(time.Duration(s.DurationMs) * time.Millisecond).String(),
			s.Error,
		})
	}
	tw.AppendFooter(table.Row{
		"total",
		strconv.Itoa(report.Found),
		fmt.Sprintf("%d new", report.New),
		fmt.Sprintf("%d duplicate", report.Duplicate),
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	return tw.Render()
}
