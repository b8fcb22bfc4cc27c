package runner

import (
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// countTests tallies the --- PASS/FAIL/SKIP markers of verbose go test output.
// It returns nil when the output contains no markers.
func countTests(output string) *types.TestCounts {
	var counts types.TestCounts
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(stripansi.Strip(line))
		switch {
		case strings.HasPrefix(line, "--- PASS:"):
			counts.Passed++
		case strings.HasPrefix(line, "--- FAIL:"):
			counts.Failed++
		case strings.HasPrefix(line, "--- SKIP:"):
			counts.Skipped++
		}
	}
	if counts.Total() == 0 {
		return nil
	}
	return &counts
}

// countsTests reports whether a phase's output is verbose go test output.
func countsTests(phase types.Phase) bool {
	switch phase {
	case types.PhaseUnit, types.PhaseIntegration, types.PhasePerformance:
		return true
	}
	return false
}
