package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

const (
	MetricsNamespace = "opcov"

	ResultPass    = "pass"
	ResultFail    = "fail"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

var (
	Debug                bool = true
	validResults              = []string{ResultPass, ResultFail, ResultTimeout}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs by result",
	}, []string{
		"result",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of runs",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	projectCoverage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "project_coverage_percent",
		Help:      "Average coverage of the last run over units that reported a total",
	})

	projectCoverageNoData = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "project_coverage_no_data",
		Help:      "1 when no unit of the last run reported coverage",
	})

	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "units_total",
		Help:      "Count of executed units by result",
	}, []string{
		"result",
	})

	unitCoverage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_coverage_percent",
		Help:      "Coverage of each unit in the last run",
	}, []string{
		"unit",
		"kind",
	})

	unitCoverageBand = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_coverage_band",
		Help:      "1 for the band each unit was classified into in the last run, 0 otherwise",
	}, []string{
		"unit",
		"band",
	})

	phaseResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "phase_results_total",
		Help:      "Count of phase executions by result",
	}, []string{
		"unit",
		"phase",
		"result",
	})

	phaseDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of the last execution of each phase",
	}, []string{
		"unit",
		"phase",
	})

	historyWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "history_writes_total",
		Help:      "Count of run history writes by result",
	}, []string{
		"result",
	})
)

var allBands = []types.Band{types.BandNoData, types.BandPoor, types.BandAcceptable, types.BandGood, types.BandExcellent}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordRun records the outcome of a whole run.
func RecordRun(result string, duration time.Duration, averageCoverage float64, noData bool) {
	if !isValidResult(result) {
		log.Error("RecordRun - invalid result", "result", result)
		return
	}
	runsTotal.WithLabelValues(result).Inc()
	runDuration.Observe(duration.Seconds())
	if noData {
		projectCoverageNoData.Set(1)
		projectCoverage.Set(0)
		return
	}
	projectCoverageNoData.Set(0)
	projectCoverage.Set(averageCoverage)
}

// RecordUnit records one unit's outcome. A unit without coverage data has its
// coverage series removed rather than reported as zero.
func RecordUnit(unit string, kind types.UnitKind, result string, coverage *types.CoverageReport, band types.Band) {
	if !isValidResult(result) {
		log.Error("RecordUnit - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "units_total",
			"unit", unit,
			"result", result,
			"band", band)
	}
	unitsTotal.WithLabelValues(result).Inc()

	if pct, ok := coverage.Percent(); ok {
		unitCoverage.WithLabelValues(unit, string(kind)).Set(pct)
	} else {
		unitCoverage.DeleteLabelValues(unit, string(kind))
	}
	for _, b := range allBands {
		v := 0.0
		if b == band {
			v = 1
		}
		unitCoverageBand.WithLabelValues(unit, string(b)).Set(v)
	}
}

// RecordPhase records one phase execution.
func RecordPhase(unit string, phase types.Phase, result string, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordPhase - invalid result", "result", result)
		return
	}
	phaseResultsTotal.WithLabelValues(unit, string(phase), result).Inc()
	phaseDuration.WithLabelValues(unit, string(phase)).Set(duration.Seconds())
}

// RecordHistoryWrite records a history store write.
func RecordHistoryWrite(err error) {
	result := ResultPass
	if err != nil {
		result = ResultError
		RecordErrorDetails("history", err)
	}
	historyWritesTotal.WithLabelValues(result).Inc()
}

// PhaseResultLabel maps a phase result to its metric label.
func PhaseResultLabel(r types.PhaseResult) string {
	switch {
	case r.Succeeded:
		return ResultPass
	case r.TimedOut:
		return ResultTimeout
	default:
		return ResultFail
	}
}

// ResultLabel maps a success flag to its metric label.
func ResultLabel(ok bool) string {
	if ok {
		return ResultPass
	}
	return ResultFail
}

func isValidResult(result string) bool {
	return slices.Contains(validResults, result)
}
