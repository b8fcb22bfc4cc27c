package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// TableFormatter formats a run summary as an ASCII table
type TableFormatter struct {
	title      string
	showPhases bool
}

// NewTableFormatter creates a new table formatter. With showPhases every
// phase gets its own row below its unit.
func NewTableFormatter(title string, showPhases bool) *TableFormatter {
	return &TableFormatter{
		title:      title,
		showPhases: showPhases,
	}
}

// Format renders summary.
func (tf *TableFormatter) Format(summary *types.ProjectSummary) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s (%s)", tf.title, formatDuration(summary.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Coverage", "Band", "Status",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Coverage", Align: text.AlignRight},
	})

	var totalTests, totalPassed, totalFailed int
	for _, r := range summary.Results() {
		tests, passed, failed := unitTestCounts(r)
		totalTests += tests
		totalPassed += passed
		totalFailed += failed

		t.AppendRow(table.Row{
			string(r.Unit.Kind),
			r.Unit.Name,
			formatDuration(r.Duration),
			countOrDash(tests),
			passed,
			failed,
			formatCoverage(r.Coverage),
			summary.Bands[r.Unit.Name].Label(),
			getResultString(r.OverallSuccess),
		})

		if tf.showPhases {
			for i, pr := range r.Phases {
				prefix := "├─"
				if i == len(r.Phases)-1 {
					prefix = "└─"
				}
				row := table.Row{"", fmt.Sprintf("%s %s", prefix, pr.Phase), formatDuration(pr.Duration), "-", "-", "-", "", "", phaseStatus(pr)}
				if pr.Tests != nil {
					row[3], row[4], row[5] = pr.Tests.Total(), pr.Tests.Passed, pr.Tests.Failed
				}
				t.AppendRow(row)
			}
		}
	}
	t.AppendSeparator()

	switch {
	case !summary.Succeeded():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case summary.CoverageNoData:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	average := "no data"
	if !summary.CoverageNoData {
		average = fmt.Sprintf("%.1f%%", summary.AverageCoverage)
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d/%d units", summary.PassedUnits, summary.TotalUnits),
		formatDuration(summary.Duration),
		totalTests,
		totalPassed,
		totalFailed,
		average,
		summary.Band.Label(),
		getResultString(summary.Succeeded()),
	})

	t.Render()
	return buf.String(), nil
}

func unitTestCounts(r *types.UnitResult) (total, passed, failed int) {
	for _, pr := range r.Phases {
		if pr.Tests == nil {
			continue
		}
		total += pr.Tests.Total()
		passed += pr.Tests.Passed
		failed += pr.Tests.Failed
	}
	return total, passed, failed
}

func countOrDash(n int) interface{} {
	if n == 0 {
		return "-"
	}
	return n
}

func formatCoverage(r *types.CoverageReport) string {
	if pct, ok := r.Percent(); ok {
		return fmt.Sprintf("%.1f%%", pct)
	}
	return "no data"
}

func phaseStatus(pr types.PhaseResult) string {
	if pr.TimedOut {
		return "TIMEOUT"
	}
	return getResultString(pr.Succeeded)
}

func getResultString(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// FormatRecommendations renders recommendations as an indented plain-text list.
func FormatRecommendations(recs []Recommendation) string {
	var b strings.Builder
	for _, r := range recs {
		if r.Unit != "" {
			fmt.Fprintf(&b, "- %s: %s\n", r.Unit, r.Message)
		} else {
			fmt.Fprintf(&b, "- %s\n", r.Message)
		}
		for _, e := range r.Entries {
			fmt.Fprintf(&b, "    %s\n", e)
		}
	}
	return b.String()
}
