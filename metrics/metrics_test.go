package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
		{
			name: "error with multiple underscores",
			err:  errors.New("test__error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(errorsTotal.WithLabelValues("test_error"))
	RecordError("test_error")
	assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues("test_error")))
}

func TestRecordErrorDetails(t *testing.T) {
	RecordErrorDetails("test", nil)

	before := testutil.ToFloat64(errorsTotal.WithLabelValues("test.sample_error"))
	RecordErrorDetails("test", errors.New("sample error"))
	assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues("test.sample_error")))
}

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues(ResultPass))
	RecordRun(ResultPass, time.Minute, 81.5, false)
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues(ResultPass)))
	assert.Equal(t, 81.5, testutil.ToFloat64(projectCoverage))
	assert.Equal(t, 0.0, testutil.ToFloat64(projectCoverageNoData))

	RecordRun(ResultFail, time.Minute, 0, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(projectCoverageNoData))

	// invalid results are dropped
	series := testutil.CollectAndCount(runsTotal)
	RecordRun("bogus", time.Minute, 0, true)
	assert.Equal(t, series, testutil.CollectAndCount(runsTotal))
}

func TestRecordUnit(t *testing.T) {
	RecordUnit("dns", types.UnitKindService, ResultPass, &types.CoverageReport{TotalPercent: 72, TotalFound: true}, types.BandAcceptable)
	assert.Equal(t, 72.0, testutil.ToFloat64(unitCoverage.WithLabelValues("dns", "service")))
	assert.Equal(t, 1.0, testutil.ToFloat64(unitCoverageBand.WithLabelValues("dns", "acceptable")))
	assert.Equal(t, 0.0, testutil.ToFloat64(unitCoverageBand.WithLabelValues("dns", "good")))

	RecordUnit("dns", types.UnitKindService, ResultFail, nil, types.BandNoData)
	assert.Equal(t, 1.0, testutil.ToFloat64(unitCoverageBand.WithLabelValues("dns", "no_data")))
	assert.Equal(t, 0.0, testutil.ToFloat64(unitCoverageBand.WithLabelValues("dns", "acceptable")))
	assert.False(t, unitCoverage.DeleteLabelValues("dns", "service"), "no-data units must not keep a coverage series")
}

func TestRecordPhase(t *testing.T) {
	before := testutil.ToFloat64(phaseResultsTotal.WithLabelValues("quora", "unit", ResultTimeout))
	RecordPhase("quora", types.PhaseUnit, ResultTimeout, 3*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(phaseResultsTotal.WithLabelValues("quora", "unit", ResultTimeout)))
	assert.Equal(t, 3.0, testutil.ToFloat64(phaseDuration.WithLabelValues("quora", "unit")))
}

func TestRecordHistoryWrite(t *testing.T) {
	ok := testutil.ToFloat64(historyWritesTotal.WithLabelValues(ResultPass))
	failed := testutil.ToFloat64(historyWritesTotal.WithLabelValues(ResultError))

	RecordHistoryWrite(nil)
	RecordHistoryWrite(errors.New("disk full"))

	assert.Equal(t, ok+1, testutil.ToFloat64(historyWritesTotal.WithLabelValues(ResultPass)))
	assert.Equal(t, failed+1, testutil.ToFloat64(historyWritesTotal.WithLabelValues(ResultError)))
}

func TestResultLabels(t *testing.T) {
	assert.Equal(t, ResultPass, PhaseResultLabel(types.PhaseResult{Succeeded: true}))
	assert.Equal(t, ResultTimeout, PhaseResultLabel(types.PhaseResult{ExitStatus: -1, TimedOut: true}))
	assert.Equal(t, ResultFail, PhaseResultLabel(types.PhaseResult{ExitStatus: 2}))
	assert.Equal(t, ResultFail, ResultLabel(false))
}
