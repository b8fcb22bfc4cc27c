package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Phase is one category of check run against a unit.
type Phase string

const (
	PhaseUnit           Phase = "unit"
	PhaseIntegration    Phase = "integration"
	PhaseBenchmark      Phase = "benchmark"
	PhaseSecurity       Phase = "security"
	PhasePerformance    Phase = "performance"
	PhaseStaticAnalysis Phase = "static_analysis"
	PhaseCoverage       Phase = "coverage"

	// PhaseSetup is synthetic: it is recorded when a unit cannot be run at all.
	PhaseSetup Phase = "setup"
)

// AllPhases lists the requestable phases in execution order.
var AllPhases = []Phase{
	PhaseUnit,
	PhaseIntegration,
	PhaseBenchmark,
	PhaseSecurity,
	PhasePerformance,
	PhaseStaticAnalysis,
	PhaseCoverage,
}

func (p Phase) String() string {
	return string(p)
}

// IsValid reports whether p can be requested by a caller.
func (p Phase) IsValid() bool {
	return slices.Contains(AllPhases, p)
}

// ProducesCoverage reports whether the phase writes a coverage profile.
func (p Phase) ProducesCoverage() bool {
	return p == PhaseUnit || p == PhaseCoverage
}

// ParsePhase parses a phase name. Dashes are accepted in place of underscores.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown phase %q (valid: %s)", s, phaseNames())
	}
	return p, nil
}

// ParsePhases parses, deduplicates and orders a list of phase names.
func ParsePhases(names []string) ([]Phase, error) {
	requested := make(map[Phase]bool, len(names))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			p, err := ParsePhase(part)
			if err != nil {
				return nil, err
			}
			requested[p] = true
		}
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("no phases requested (valid: %s)", phaseNames())
	}
	return OrderPhases(requested), nil
}

// OrderPhases returns the set members in canonical execution order.
func OrderPhases(set map[Phase]bool) []Phase {
	var out []Phase
	for _, p := range AllPhases {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

func phaseNames() string {
	names := make([]string, len(AllPhases))
	for i, p := range AllPhases {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// TestCounts holds the per-test outcomes counted from verbose go test output.
type TestCounts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (c TestCounts) Total() int {
	return c.Passed + c.Failed + c.Skipped
}

// PhaseResult is the outcome of one phase invocation against one unit.
type PhaseResult struct {
	Phase      Phase         `json:"phase"`
	Command    string        `json:"command,omitempty"`
	ExitStatus int           `json:"exit_status"`
	Succeeded  bool          `json:"succeeded"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Duration   time.Duration `json:"duration"`
	Tests      *TestCounts   `json:"tests,omitempty"`
}

// NewPhaseResult builds a validated PhaseResult. Succeeded is derived from the exit status.
func NewPhaseResult(phase Phase, exitStatus int, stdout, stderr string, duration time.Duration) (PhaseResult, error) {
	if !phase.IsValid() && phase != PhaseSetup {
		return PhaseResult{}, fmt.Errorf("invalid phase %q", phase)
	}
	if exitStatus < -1 {
		return PhaseResult{}, fmt.Errorf("phase %s: invalid exit status %d", phase, exitStatus)
	}
	if duration < 0 {
		return PhaseResult{}, fmt.Errorf("phase %s: negative duration %s", phase, duration)
	}
	return PhaseResult{
		Phase:      phase,
		ExitStatus: exitStatus,
		Succeeded:  exitStatus == 0,
		Stdout:     stdout,
		Stderr:     stderr,
		Duration:   duration,
	}, nil
}

// SetupFailure is the synthetic phase result recorded when a unit cannot run.
func SetupFailure(reason string) PhaseResult {
	return PhaseResult{
		Phase:      PhaseSetup,
		ExitStatus: -1,
		Stderr:     reason,
	}
}
