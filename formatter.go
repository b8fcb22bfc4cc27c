package opcov

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-coverage/reporting"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// ResultFormatter presents a finished run to the operator.
type ResultFormatter interface {
	FormatResults(summary *types.ProjectSummary) error
}

// ConsoleResultFormatter prints the results table, the verdict and the
// recommendations.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
	table  *reporting.TableFormatter
}

func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
		table:  reporting.NewTableFormatter("Coverage Results", true),
	}
}

func (f *ConsoleResultFormatter) FormatResults(summary *types.ProjectSummary) error {
	if summary == nil {
		return fmt.Errorf("summary is nil")
	}
	f.logger.Info("Printing results...")

	rendered, err := f.table.Format(summary)
	if err != nil {
		return fmt.Errorf("failed to render results table: %w", err)
	}
	if _, err := io.WriteString(f.out, rendered); err != nil {
		return err
	}

	if summary.CoverageNoData {
		fmt.Fprintf(f.out, "Average coverage: no data (%s)\n", summary.Band.Label())
	} else {
		fmt.Fprintf(f.out, "Average coverage: %.1f%% over %d units (%s)\n",
			summary.AverageCoverage, summary.CoverageUnits, summary.Band.Label())
	}
	fmt.Fprintf(f.out, "Pass rate: %.1f%% (%d/%d units)\n", summary.PassRate, summary.PassedUnits, summary.TotalUnits)
	if summary.Succeeded() {
		fmt.Fprintln(f.out, "Result: PASS")
	} else {
		fmt.Fprintf(f.out, "Result: FAIL (%s)\n", summary.FailureReason())
	}

	if recs := reporting.Recommend(summary); len(recs) > 0 {
		fmt.Fprintln(f.out, "\nRecommendations:")
		_, err = io.WriteString(f.out, reporting.FormatRecommendations(recs))
	}
	return err
}
