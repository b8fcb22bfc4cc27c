package types

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ProjectSummary is the top-level artifact of one run.
type ProjectSummary struct {
	RunID           string             `json:"run_id"`
	Timestamp       time.Time          `json:"timestamp"`
	Duration        time.Duration      `json:"duration"`
	RequestedPhases []Phase            `json:"requested_phases"`
	Thresholds      CoverageThresholds `json:"thresholds"`

	// Order holds unit names in declaration order.
	Order []string               `json:"order"`
	Units map[string]*UnitResult `json:"units"`
	// Bands classifies every unit with Thresholds.Classify.
	Bands map[string]Band `json:"bands"`

	TotalUnits  int `json:"total_units"`
	PassedUnits int `json:"passed_units"`
	FailedUnits int `json:"failed_units"`

	// AverageCoverage is the mean over the CoverageUnits units that reported a
	// valid total. CoverageNoData is set when no unit did.
	AverageCoverage float64 `json:"average_coverage"`
	CoverageUnits   int     `json:"coverage_units"`
	CoverageNoData  bool    `json:"coverage_no_data"`
	// RejectedCoverage lists units whose coverage value was out of range.
	RejectedCoverage []string `json:"rejected_coverage,omitempty"`

	PassRate float64 `json:"pass_rate"`
	Band     Band    `json:"band"`
}

// NewProjectSummary merges unit results, given in declaration order, into a summary.
func NewProjectSummary(runID string, timestamp time.Time, thresholds CoverageThresholds, phases []Phase, results []*UnitResult) (*ProjectSummary, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	s := &ProjectSummary{
		RunID:           runID,
		Timestamp:       timestamp,
		RequestedPhases: slices.Clone(phases),
		Thresholds:      thresholds,
		Units:           make(map[string]*UnitResult, len(results)),
		Bands:           make(map[string]Band, len(results)),
	}

	var coverageSum float64
	for _, r := range results {
		if r == nil {
			return nil, errors.New("nil unit result")
		}
		name := r.Unit.Name
		if _, dup := s.Units[name]; dup {
			return nil, fmt.Errorf("duplicate unit result %q", name)
		}
		s.Order = append(s.Order, name)
		s.Units[name] = r

		if r.OverallSuccess {
			s.PassedUnits++
		} else {
			s.FailedUnits++
		}

		band := BandNoData
		if !r.Coverage.NoData() {
			if validPercent(r.Coverage.TotalPercent) {
				coverageSum += r.Coverage.TotalPercent
				s.CoverageUnits++
				band = thresholds.Classify(r.Coverage.TotalPercent)
			} else {
				s.RejectedCoverage = append(s.RejectedCoverage, name)
			}
		}
		s.Bands[name] = band
	}

	s.TotalUnits = len(s.Order)
	if s.TotalUnits > 0 {
		s.PassRate = float64(s.PassedUnits) / float64(s.TotalUnits) * 100
	}
	if s.CoverageUnits > 0 {
		s.AverageCoverage = coverageSum / float64(s.CoverageUnits)
		s.Band = thresholds.Classify(s.AverageCoverage)
	} else {
		s.CoverageNoData = true
		s.Band = BandNoData
	}
	return s, nil
}

// Results returns the unit results in declaration order.
func (s *ProjectSummary) Results() []*UnitResult {
	out := make([]*UnitResult, 0, len(s.Order))
	for _, name := range s.Order {
		out = append(out, s.Units[name])
	}
	return out
}

// AllPhasesSucceeded reports whether every unit succeeded in every requested phase.
func (s *ProjectSummary) AllPhasesSucceeded() bool {
	return s.FailedUnits == 0
}

// CoverageGated reports whether a coverage-bearing phase was requested.
func (s *ProjectSummary) CoverageGated() bool {
	return slices.ContainsFunc(s.RequestedPhases, Phase.ProducesCoverage)
}

// CoverageMeetsMinimum applies the coverage gate. Unmeasured coverage never
// meets the minimum when a coverage-bearing phase was requested.
func (s *ProjectSummary) CoverageMeetsMinimum() bool {
	if !s.CoverageGated() {
		return true
	}
	if s.CoverageNoData {
		return false
	}
	return s.Thresholds.MeetsMinimum(s.AverageCoverage)
}

// Succeeded is the process exit contract.
func (s *ProjectSummary) Succeeded() bool {
	return s.AllPhasesSucceeded() && s.CoverageMeetsMinimum()
}

// FailureReason describes why Succeeded is false.
func (s *ProjectSummary) FailureReason() string {
	var reasons []string
	if !s.AllPhasesSucceeded() {
		var failed []string
		for _, r := range s.Results() {
			if !r.OverallSuccess {
				failed = append(failed, r.Unit.Name)
			}
		}
		reasons = append(reasons, fmt.Sprintf("%d of %d units failed: %v", s.FailedUnits, s.TotalUnits, failed))
	}
	if !s.CoverageMeetsMinimum() {
		if s.CoverageNoData {
			reasons = append(reasons, "no coverage data was reported")
		} else {
			reasons = append(reasons, fmt.Sprintf("average coverage %.1f%% is below the minimum %.1f%%",
				s.AverageCoverage, s.Thresholds.Minimum))
		}
	}
	return strings.Join(reasons, "; ")
}
