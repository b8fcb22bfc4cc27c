package types

import "fmt"

// Band is the qualitative classification of a coverage percentage.
type Band string

const (
	BandNoData     Band = "no_data"
	BandPoor       Band = "poor"
	BandAcceptable Band = "acceptable"
	BandGood       Band = "good"
	BandExcellent  Band = "excellent"
)

// Rank orders bands from worst to best. No-data ranks below poor.
func (b Band) Rank() int {
	switch b {
	case BandPoor:
		return 1
	case BandAcceptable:
		return 2
	case BandGood:
		return 3
	case BandExcellent:
		return 4
	default:
		return 0
	}
}

// Label is the human-facing name of the band.
func (b Band) Label() string {
	switch b {
	case BandPoor:
		return "Poor"
	case BandAcceptable:
		return "Acceptable"
	case BandGood:
		return "Good"
	case BandExcellent:
		return "Excellent"
	default:
		return "No data"
	}
}

const (
	DefaultMinimumCoverage   = 70.0
	DefaultTargetCoverage    = 80.0
	DefaultExcellentCoverage = 90.0
)

// CoverageThresholds configures the band edges. Each edge is inclusive at the
// lower end of its band.
type CoverageThresholds struct {
	Minimum   float64 `json:"minimum" yaml:"minimum" toml:"minimum"`
	Target    float64 `json:"target" yaml:"target" toml:"target"`
	Excellent float64 `json:"excellent" yaml:"excellent" toml:"excellent"`
}

func DefaultThresholds() CoverageThresholds {
	return CoverageThresholds{
		Minimum:   DefaultMinimumCoverage,
		Target:    DefaultTargetCoverage,
		Excellent: DefaultExcellentCoverage,
	}
}

func (t CoverageThresholds) Validate() error {
	edges := []struct {
		name  string
		value float64
	}{{"minimum", t.Minimum}, {"target", t.Target}, {"excellent", t.Excellent}}
	for _, e := range edges {
		if !validPercent(e.value) {
			return fmt.Errorf("%s threshold %.2f out of range [0, 100]", e.name, e.value)
		}
	}
	if t.Minimum > t.Target || t.Target > t.Excellent {
		return fmt.Errorf("thresholds must be ascending: minimum=%.2f target=%.2f excellent=%.2f",
			t.Minimum, t.Target, t.Excellent)
	}
	return nil
}

// Classify maps a measured coverage percentage to its band. It is the only
// classification rule: units, the project average and the HTML report all use it.
func (t CoverageThresholds) Classify(percent float64) Band {
	switch {
	case percent >= t.Excellent:
		return BandExcellent
	case percent >= t.Target:
		return BandGood
	case percent >= t.Minimum:
		return BandAcceptable
	default:
		return BandPoor
	}
}

// ClassifyReport classifies a report, yielding BandNoData when it has no total.
func (t CoverageThresholds) ClassifyReport(r *CoverageReport) Band {
	p, ok := r.Percent()
	if !ok {
		return BandNoData
	}
	return t.Classify(p)
}

// MeetsMinimum reports whether a measured percentage clears the minimum.
func (t CoverageThresholds) MeetsMinimum(percent float64) bool {
	return t.Classify(percent).Rank() >= BandAcceptable.Rank()
}
