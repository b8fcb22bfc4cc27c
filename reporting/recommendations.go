package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// MaxLowCoverageEntries caps the entries listed per unit.
const MaxLowCoverageEntries = 10

type RecommendationKind string

const (
	RecommendImproveCoverage RecommendationKind = "improve_coverage"
	RecommendCheckCoverage   RecommendationKind = "check_coverage"
	RecommendFixFailures     RecommendationKind = "fix_failures"
	RecommendMaintain        RecommendationKind = "maintain"
)

// Recommendation is an actionable note derived from bands and phase outcomes.
// Unit is empty for project-wide recommendations.
type Recommendation struct {
	Kind    RecommendationKind `json:"kind"`
	Unit    string             `json:"unit,omitempty"`
	Message string             `json:"message"`
	Entries []string           `json:"entries,omitempty"`
}

// Recommend derives recommendations in unit declaration order, followed by the
// project-wide ones.
func Recommend(summary *types.ProjectSummary) []Recommendation {
	recs := []Recommendation{}
	gated := summary.CoverageGated()
	minimum := summary.Thresholds.Minimum

	for _, r := range summary.Results() {
		name := r.Unit.Name

		if r.SetupFailed() {
			setup, _ := r.Phase(types.PhaseSetup)
			recs = append(recs, Recommendation{
				Kind:    RecommendFixFailures,
				Unit:    name,
				Message: fmt.Sprintf("Unit could not run: %s", firstLine(setup.Stderr)),
			})
			continue
		}
		if failed := r.FailedPhases(); len(failed) > 0 {
			recs = append(recs, Recommendation{
				Kind:    RecommendFixFailures,
				Unit:    name,
				Message: fmt.Sprintf("Fix failing phases: %s", joinPhases(failed)),
			})
		}

		switch summary.Bands[name] {
		case types.BandPoor:
			pct, _ := r.Coverage.Percent()
			recs = append(recs, Recommendation{
				Kind:    RecommendImproveCoverage,
				Unit:    name,
				Message: fmt.Sprintf("Coverage %.1f%% is below the %.1f%% minimum", pct, minimum),
				Entries: formatEntries(lowCoverage(r.Coverage, minimum)),
			})
		case types.BandNoData:
			if gated {
				recs = append(recs, Recommendation{
					Kind:    RecommendCheckCoverage,
					Unit:    name,
					Message: "No coverage data: check that the coverage phase succeeds and writes a profile",
				})
			}
		}
	}

	switch {
	case summary.CoverageNoData:
		if gated {
			recs = append(recs, Recommendation{
				Kind:    RecommendCheckCoverage,
				Message: "No unit reported coverage",
			})
		}
	case summary.Band == types.BandPoor:
		recs = append(recs, Recommendation{
			Kind:    RecommendImproveCoverage,
			Message: fmt.Sprintf("Project coverage %.1f%% is below the %.1f%% minimum", summary.AverageCoverage, minimum),
		})
	case summary.Band == types.BandExcellent:
		recs = append(recs, Recommendation{
			Kind:    RecommendMaintain,
			Message: fmt.Sprintf("Project coverage %.1f%% is excellent, keep it there", summary.AverageCoverage),
		})
	}
	return recs
}

// lowCoverage returns up to MaxLowCoverageEntries entries below minimum, worst first.
func lowCoverage(report *types.CoverageReport, minimum float64) []types.CoverageEntry {
	if report.NoData() {
		return nil
	}
	below := report.EntriesBelow(minimum)
	sort.SliceStable(below, func(i, j int) bool {
		if below[i].Percent == below[j].Percent {
			return below[i].Key() < below[j].Key()
		}
		return below[i].Percent < below[j].Percent
	})
	if len(below) > MaxLowCoverageEntries {
		below = below[:MaxLowCoverageEntries]
	}
	return below
}

func formatEntries(entries []types.CoverageEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s (%.1f%%)", e.Key(), e.Percent))
	}
	return out
}

func joinPhases(phases []types.Phase) string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
