package types

import (
	"fmt"
	"slices"
	"time"
)

// UnitResult aggregates every phase outcome and the coverage of one unit.
// It is built once by NewUnitResult and must not be modified afterwards.
type UnitResult struct {
	Unit            Unit          `json:"unit"`
	RequestedPhases []Phase       `json:"requested_phases"`
	Phases          []PhaseResult `json:"phases"`
	// Coverage is nil when no coverage-summary invocation produced output.
	Coverage *CoverageReport `json:"coverage,omitempty"`
	// CoverageSummary is the invocation that produced Coverage.
	CoverageSummary *PhaseResult  `json:"coverage_summary,omitempty"`
	CoverageHTML    string        `json:"coverage_html,omitempty"`
	OverallSuccess  bool          `json:"overall_success"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// UnitOutcome is the raw material a driver collects for one unit.
type UnitOutcome struct {
	Unit            Unit
	Requested       []Phase
	Phases          []PhaseResult
	Coverage        *CoverageReport
	CoverageSummary *PhaseResult
	CoverageHTML    string
	StartedAt       time.Time
	Duration        time.Duration
}

// NewUnitResult validates the outcome and derives OverallSuccess: true iff
// every requested phase succeeded and no setup failure was recorded.
func NewUnitResult(o UnitOutcome) (*UnitResult, error) {
	if err := o.Unit.Validate(); err != nil {
		return nil, err
	}
	if err := o.Coverage.Validate(); err != nil {
		return nil, fmt.Errorf("unit %s: %w", o.Unit.Name, err)
	}
	if o.Duration < 0 {
		return nil, fmt.Errorf("unit %s: negative duration %s", o.Unit.Name, o.Duration)
	}
	for _, p := range o.Requested {
		if !p.IsValid() {
			return nil, fmt.Errorf("unit %s: invalid requested phase %q", o.Unit.Name, p)
		}
	}

	byPhase := make(map[Phase]PhaseResult, len(o.Phases))
	for _, pr := range o.Phases {
		if _, dup := byPhase[pr.Phase]; dup {
			return nil, fmt.Errorf("unit %s: phase %s recorded twice", o.Unit.Name, pr.Phase)
		}
		byPhase[pr.Phase] = pr
	}

	success := true
	if setup, ok := byPhase[PhaseSetup]; ok && !setup.Succeeded {
		success = false
	} else {
		for _, p := range o.Requested {
			pr, ok := byPhase[p]
			if !ok || !pr.Succeeded {
				success = false
				break
			}
		}
	}

	return &UnitResult{
		Unit:            o.Unit,
		RequestedPhases: slices.Clone(o.Requested),
		Phases:          slices.Clone(o.Phases),
		Coverage:        o.Coverage,
		CoverageSummary: o.CoverageSummary,
		CoverageHTML:    o.CoverageHTML,
		OverallSuccess:  success,
		StartedAt:       o.StartedAt,
		Duration:        o.Duration,
	}, nil
}

// Phase returns the recorded result for p.
func (r *UnitResult) Phase(p Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// FailedPhases lists the phases that did not succeed, in execution order.
func (r *UnitResult) FailedPhases() []Phase {
	var out []Phase
	for _, pr := range r.Phases {
		if !pr.Succeeded {
			out = append(out, pr.Phase)
		}
	}
	return out
}

// SetupFailed reports whether the unit could not be run at all.
func (r *UnitResult) SetupFailed() bool {
	pr, ok := r.Phase(PhaseSetup)
	return ok && !pr.Succeeded
}
