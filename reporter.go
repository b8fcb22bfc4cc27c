package opcov

import (
	"github.com/ethereum-optimism/infra/op-coverage/metrics"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// MetricsReporter is responsible for reporting metrics from run summaries.
type MetricsReporter interface {
	ReportResults(summary *types.ProjectSummary)
}

// DefaultMetricsReporter records summaries in the prometheus collectors of
// the metrics package.
type DefaultMetricsReporter struct{}

func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

func (r *DefaultMetricsReporter) ReportResults(summary *types.ProjectSummary) {
	if summary == nil {
		return
	}
	for _, u := range summary.Results() {
		for _, pr := range u.Phases {
			metrics.RecordPhase(u.Unit.Name, pr.Phase, metrics.PhaseResultLabel(pr), pr.Duration)
		}
		metrics.RecordUnit(u.Unit.Name, u.Unit.Kind, metrics.ResultLabel(u.OverallSuccess), u.Coverage, summary.Bands[u.Unit.Name])
	}
	metrics.RecordRun(metrics.ResultLabel(summary.Succeeded()), summary.Duration, summary.AverageCoverage, summary.CoverageNoData)
}
