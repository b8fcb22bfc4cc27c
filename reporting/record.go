package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// SchemaVersion is bumped whenever the record layout changes incompatibly.
const SchemaVersion = 1

// Record is the persisted form of one run. Historical records and latest.json
// share this schema.
type Record struct {
	SchemaVersion   int              `json:"schema_version"`
	Summary         RecordSummary    `json:"summary"`
	Trend           *Trend           `json:"trend"`
	Recommendations []Recommendation `json:"recommendations"`
}

// RecordSummary flattens a ProjectSummary into declaration-ordered units.
type RecordSummary struct {
	RunID            string                   `json:"run_id"`
	Timestamp        time.Time                `json:"timestamp"`
	DurationSeconds  float64                  `json:"duration_seconds"`
	RequestedPhases  []types.Phase            `json:"requested_phases"`
	Thresholds       types.CoverageThresholds `json:"thresholds"`
	TotalUnits       int                      `json:"total_units"`
	PassedUnits      int                      `json:"passed_units"`
	FailedUnits      int                      `json:"failed_units"`
	PassRate         float64                  `json:"pass_rate"`
	AverageCoverage  float64                  `json:"average_coverage"`
	CoverageUnits    int                      `json:"coverage_units"`
	CoverageNoData   bool                     `json:"coverage_no_data"`
	RejectedCoverage []string                 `json:"rejected_coverage,omitempty"`
	Band             types.Band               `json:"band"`
	Succeeded        bool                     `json:"succeeded"`
	FailureReason    string                   `json:"failure_reason,omitempty"`
	Units            []RecordUnit             `json:"units"`
}

// RecordUnit is one unit's result. Coverage is null when the unit has no data.
type RecordUnit struct {
	Name            string         `json:"name"`
	Path            string         `json:"path"`
	Kind            types.UnitKind `json:"kind"`
	Module          string         `json:"module,omitempty"`
	Succeeded       bool           `json:"succeeded"`
	Coverage        *float64       `json:"coverage"`
	Band            types.Band     `json:"band"`
	DurationSeconds float64        `json:"duration_seconds"`
	Phases          []RecordPhase  `json:"phases"`
	CoverageHTML    string         `json:"coverage_html,omitempty"`
	// LowCoverage lists the entries below the minimum, worst first.
	LowCoverage []types.CoverageEntry `json:"low_coverage,omitempty"`
}

// RecordPhase is one phase invocation. Output is kept in the per-run logs, the
// record only carries the first stderr line of failures.
type RecordPhase struct {
	Phase           types.Phase       `json:"phase"`
	Command         string            `json:"command,omitempty"`
	ExitStatus      int               `json:"exit_status"`
	Succeeded       bool              `json:"succeeded"`
	TimedOut        bool              `json:"timed_out,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	Tests           *types.TestCounts `json:"tests,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// NewRecordSummary converts summary into its persisted form.
func NewRecordSummary(summary *types.ProjectSummary) RecordSummary {
	rs := RecordSummary{
		RunID:            summary.RunID,
		Timestamp:        summary.Timestamp.UTC(),
		DurationSeconds:  summary.Duration.Seconds(),
		RequestedPhases:  summary.RequestedPhases,
		Thresholds:       summary.Thresholds,
		TotalUnits:       summary.TotalUnits,
		PassedUnits:      summary.PassedUnits,
		FailedUnits:      summary.FailedUnits,
		PassRate:         summary.PassRate,
		AverageCoverage:  summary.AverageCoverage,
		CoverageUnits:    summary.CoverageUnits,
		CoverageNoData:   summary.CoverageNoData,
		RejectedCoverage: summary.RejectedCoverage,
		Band:             summary.Band,
		Succeeded:        summary.Succeeded(),
		FailureReason:    summary.FailureReason(),
		Units:            make([]RecordUnit, 0, summary.TotalUnits),
	}

	for _, r := range summary.Results() {
		ru := RecordUnit{
			Name:            r.Unit.Name,
			Path:            r.Unit.Path,
			Kind:            r.Unit.Kind,
			Module:          r.Unit.Module,
			Succeeded:       r.OverallSuccess,
			Band:            summary.Bands[r.Unit.Name],
			DurationSeconds: r.Duration.Seconds(),
			Phases:          make([]RecordPhase, 0, len(r.Phases)),
			CoverageHTML:    r.CoverageHTML,
			LowCoverage:     lowCoverage(r.Coverage, summary.Thresholds.Minimum),
		}
		if pct, ok := r.Coverage.Percent(); ok && !slices.Contains(summary.RejectedCoverage, r.Unit.Name) {
			ru.Coverage = &pct
		}
		for _, pr := range r.Phases {
			rp := RecordPhase{
				Phase:           pr.Phase,
				Command:         pr.Command,
				ExitStatus:      pr.ExitStatus,
				Succeeded:       pr.Succeeded,
				TimedOut:        pr.TimedOut,
				DurationSeconds: pr.Duration.Seconds(),
				Tests:           pr.Tests,
			}
			if !pr.Succeeded {
				rp.Error = firstLine(pr.Stderr)
			}
			ru.Phases = append(ru.Phases, rp)
		}
		rs.Units = append(rs.Units, ru)
	}
	return rs
}

// Unit returns the named unit of the record.
func (s RecordSummary) Unit(name string) (RecordUnit, bool) {
	for _, u := range s.Units {
		if u.Name == name {
			return u, true
		}
	}
	return RecordUnit{}, false
}

// LoadRecord reads a record written by the emitter.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", path, err)
	}
	if rec.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("record %s has schema version %d, want %d", path, rec.SchemaVersion, SchemaVersion)
	}
	if rec.Summary.RunID == "" {
		return nil, fmt.Errorf("record %s has no run id", path)
	}
	return &rec, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
