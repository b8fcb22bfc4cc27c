package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-coverage/flags"
	"github.com/ethereum-optimism/infra/op-coverage/history"
)

const defaultHistoryLimit = 20

// HistoryCommand defines the "history" command for inspecting past runs.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show past coverage runs recorded in the run history",
		ArgsUsage: "[unit]",
		Description: `Prints the most recent runs from the SQLite run history, newest first.
With a unit argument, prints the coverage of that unit across runs instead.

Examples:
  op-coverage history
  op-coverage history --limit 5
  op-coverage history dns`,
		Flags: []cli.Flag{
			flags.HistoryDB,
			flags.ReportDir,
			&cli.IntFlag{
				Name:  "limit",
				Value: defaultHistoryLimit,
				Usage: "maximum number of rows to print (0 for all)",
			},
		},
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	path := c.String(flags.HistoryDB.Name)
	if path == "" {
		path = filepath.Join(c.String(flags.ReportDir.Name), history.DefaultFilename)
	}

	store, err := history.Open(c.Context, log.Root(), path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open run history: %v", err), 2)
	}
	defer store.Close()

	limit := c.Int("limit")
	if c.NArg() > 0 {
		unit := c.Args().First()
		points, err := store.UnitHistory(c.Context, unit, limit)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to read history for %s: %v", unit, err), 2)
		}
		renderUnitHistory(c.App.Writer, unit, points)
		return nil
	}

	runs, err := store.Recent(c.Context, limit)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read run history: %v", err), 2)
	}
	renderRuns(c.App.Writer, runs)
	return nil
}

func renderRuns(out io.Writer, runs []history.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("Run History (%d runs)", len(runs)))
	t.AppendHeader(table.Row{"Run", "Time", "Duration", "Phases", "Units", "Coverage", "Band", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Units", Align: text.AlignRight},
		{Name: "Coverage", Align: text.AlignRight},
	})
	for _, r := range runs {
		phases := make([]string, len(r.Phases))
		for i, p := range r.Phases {
			phases[i] = string(p)
		}
		t.AppendRow(table.Row{
			r.RunID,
			r.Timestamp.Local().Format(time.DateTime),
			r.Duration.Truncate(time.Millisecond).String(),
			strings.Join(phases, ","),
			fmt.Sprintf("%d/%d", r.PassedUnits, r.TotalUnits),
			formatPercent(r.AverageCoverage),
			r.Band.Label(),
			statusString(r.Succeeded),
		})
	}
	t.Render()
}

func renderUnitHistory(out io.Writer, unit string, points []history.UnitPoint) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("Coverage History: %s", unit))
	t.AppendHeader(table.Row{"Run", "Time", "Duration", "Coverage", "Band", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Coverage", Align: text.AlignRight},
	})
	for _, p := range points {
		t.AppendRow(table.Row{
			p.RunID,
			p.Timestamp.Local().Format(time.DateTime),
			p.Duration.Truncate(time.Millisecond).String(),
			formatPercent(p.Coverage),
			p.Band.Label(),
			statusString(p.Succeeded),
		})
	}
	t.Render()
}

func formatPercent(v *float64) string {
	if v == nil {
		return "no data"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func statusString(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
