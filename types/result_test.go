package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnitResult_OverallSuccess(t *testing.T) {
	unit := Unit{Name: "tinyurl", Path: "/src/services/tinyurl", Kind: UnitKindService}
	ok := func(p Phase) PhaseResult {
		pr, err := NewPhaseResult(p, 0, "", "", time.Millisecond)
		require.NoError(t, err)
		return pr
	}
	fail := func(p Phase) PhaseResult {
		pr, err := NewPhaseResult(p, 1, "", "FAIL", time.Millisecond)
		require.NoError(t, err)
		return pr
	}

	tests := []struct {
		name      string
		requested []Phase
		phases    []PhaseResult
		want      bool
	}{
		{"all requested succeed", []Phase{PhaseUnit, PhaseIntegration}, []PhaseResult{ok(PhaseUnit), ok(PhaseIntegration)}, true},
		{"one requested fails", []Phase{PhaseUnit, PhaseIntegration}, []PhaseResult{ok(PhaseUnit), fail(PhaseIntegration)}, false},
		{"unrequested failure ignored", []Phase{PhaseUnit}, []PhaseResult{ok(PhaseUnit), fail(PhaseBenchmark)}, true},
		{"requested phase missing", []Phase{PhaseUnit, PhaseBenchmark}, []PhaseResult{ok(PhaseUnit)}, false},
		{"setup failure", []Phase{PhaseUnit}, []PhaseResult{SetupFailure("missing")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewUnitResult(UnitOutcome{Unit: unit, Requested: tt.requested, Phases: tt.phases})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.OverallSuccess)
		})
	}
}

func TestNewUnitResult_Rejects(t *testing.T) {
	unit := Unit{Name: "dns", Path: "/src/services/dns", Kind: UnitKindService}

	_, err := NewUnitResult(UnitOutcome{Unit: Unit{Name: "x"}})
	assert.Error(t, err, "unit without path")

	_, err = NewUnitResult(UnitOutcome{Unit: unit, Coverage: &CoverageReport{TotalFound: true, TotalPercent: 101}})
	assert.Error(t, err, "coverage out of range")

	_, err = NewUnitResult(UnitOutcome{Unit: unit, Phases: []PhaseResult{SetupFailure("a"), SetupFailure("b")}})
	assert.Error(t, err, "duplicate phase")

	_, err = NewUnitResult(UnitOutcome{Unit: unit, Requested: []Phase{PhaseSetup}})
	assert.Error(t, err, "setup is not requestable")
}

func TestUnitResult_Accessors(t *testing.T) {
	pr, err := NewPhaseResult(PhaseUnit, 1, "", "", 0)
	require.NoError(t, err)
	r, err := NewUnitResult(UnitOutcome{
		Unit:      Unit{Name: "quora", Path: "/q", Kind: UnitKindService},
		Requested: []Phase{PhaseUnit},
		Phases:    []PhaseResult{pr},
	})
	require.NoError(t, err)

	got, ok := r.Phase(PhaseUnit)
	require.True(t, ok)
	assert.Equal(t, 1, got.ExitStatus)
	_, ok = r.Phase(PhaseCoverage)
	assert.False(t, ok)
	assert.Equal(t, []Phase{PhaseUnit}, r.FailedPhases())
	assert.False(t, r.SetupFailed())
}

func TestValidateUnits(t *testing.T) {
	require.NoError(t, ValidateUnits([]Unit{
		{Name: "sample-app", Path: "/a", Kind: UnitKindApplication},
		{Name: "dns", Path: "/b", Kind: UnitKindService},
	}))
	assert.Error(t, ValidateUnits(nil))
	assert.Error(t, ValidateUnits([]Unit{
		{Name: "dns", Path: "/a", Kind: UnitKindService},
		{Name: "dns", Path: "/b", Kind: UnitKindService},
	}))
	assert.Error(t, ValidateUnits([]Unit{{Name: "dns", Path: "/a", Kind: "library"}}))
}

func TestCoverageReport_Validate(t *testing.T) {
	var nilReport *CoverageReport
	assert.NoError(t, nilReport.Validate())
	assert.True(t, nilReport.NoData())

	r := &CoverageReport{
		TotalPercent: 50,
		TotalFound:   true,
		Entries: []CoverageEntry{
			{Identifier: "a.go", Symbol: "Foo", Percent: 10},
			{Identifier: "a.go", Symbol: "Bar", Percent: 90},
		},
	}
	require.NoError(t, r.Validate())
	assert.Equal(t, []CoverageEntry{{Identifier: "a.go", Symbol: "Foo", Percent: 10}}, r.EntriesBelow(70))

	r.Entries = append(r.Entries, CoverageEntry{Identifier: "a.go", Symbol: "Foo", Percent: 20})
	assert.Error(t, r.Validate())

	assert.Error(t, (&CoverageReport{TotalPercent: 5}).Validate(), "value without total")
}
