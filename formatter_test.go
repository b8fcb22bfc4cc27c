package opcov

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

func TestConsoleResultFormatter_FormatResults(t *testing.T) {
	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(testLogger(), &out)

	require.NoError(t, formatter.FormatResults(makeSummary(t, "run-1", 95, false)))

	text := out.String()
	assert.Contains(t, text, "dns")
	assert.Contains(t, text, "Average coverage: 95.0% over 1 units (Excellent)")
	assert.Contains(t, text, "Pass rate: 100.0% (1/1 units)")
	assert.Contains(t, text, "Result: PASS")
	assert.Contains(t, text, "Recommendations:")
	assert.Contains(t, text, "keep it there")
}

func TestConsoleResultFormatter_Failure(t *testing.T) {
	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(testLogger(), &out)

	require.NoError(t, formatter.FormatResults(makeSummary(t, "run-1", 40, true)))

	text := out.String()
	assert.Contains(t, text, "Result: FAIL")
	assert.Contains(t, text, "1 of 1 units failed")
	assert.Contains(t, text, "below the minimum")
	assert.Contains(t, text, "Fix failing phases: unit")
}

func TestConsoleResultFormatter_NoData(t *testing.T) {
	r, err := types.NewUnitResult(types.UnitOutcome{
		Unit:      types.Unit{Name: "quora", Path: "/src/quora", Kind: types.UnitKindApplication},
		Requested: []types.Phase{types.PhaseStaticAnalysis},
		Phases:    []types.PhaseResult{{Phase: types.PhaseStaticAnalysis, Succeeded: true}},
	})
	require.NoError(t, err)
	summary, err := types.NewProjectSummary("run-2", time.Now(), types.DefaultThresholds(), []types.Phase{types.PhaseStaticAnalysis}, []*types.UnitResult{r})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, NewConsoleResultFormatter(testLogger(), &out).FormatResults(summary))

	text := out.String()
	assert.Contains(t, text, "Average coverage: no data (No data)")
	assert.Contains(t, text, "Result: PASS", "the coverage gate only applies to coverage-bearing phases")
	assert.NotContains(t, text, "Recommendations:")
}

func TestConsoleResultFormatter_NilSummary(t *testing.T) {
	assert.Error(t, NewConsoleResultFormatter(testLogger(), &bytes.Buffer{}).FormatResults(nil))
}
