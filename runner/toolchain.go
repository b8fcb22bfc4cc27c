package runner

import (
	"fmt"
	"slices"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// Toolchain builds the invocations that implement each phase. It is the only
// place that knows the toolchain's flag syntax.
type Toolchain interface {
	// PhaseCommands returns the steps of a phase, run in order in the unit directory.
	PhaseCommands(phase types.Phase) ([]types.Command, error)
	// CoverageSummaryCommand prints a per-function summary of the coverage profile.
	CoverageSummaryCommand() types.Command
	// CoverageHTMLCommand renders the coverage profile to output.
	CoverageHTMLCommand(output string) types.Command
}

// GoToolchain drives the go command. Overrides replace the built-in steps of a phase.
type GoToolchain struct {
	GoBinary    string
	ProfileName string
	Overrides   map[types.Phase][]types.Command
}

var _ Toolchain = (*GoToolchain)(nil)

func NewGoToolchain(goBinary string, overrides map[types.Phase][]types.Command) *GoToolchain {
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	return &GoToolchain{
		GoBinary:    goBinary,
		ProfileName: DefaultProfileName,
		Overrides:   overrides,
	}
}

func (g *GoToolchain) PhaseCommands(phase types.Phase) ([]types.Command, error) {
	if !phase.IsValid() {
		return nil, fmt.Errorf("no commands for phase %q", phase)
	}
	if cmds, ok := g.Overrides[phase]; ok && len(cmds) > 0 {
		for _, c := range cmds {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("phase %s override: %w", phase, err)
			}
		}
		return slices.Clone(cmds), nil
	}

	goCmd := func(args ...string) types.Command {
		return types.NewCommand(append([]string{g.GoBinary}, args...)...)
	}
	profile := "-coverprofile=" + g.profile()

	switch phase {
	case types.PhaseUnit:
		return []types.Command{
			goCmd(TestCommand, VerboseFlag, RaceFlag, profile, CoverModeAtomic, AllPackagesPattern),
		}, nil
	case types.PhaseIntegration:
		return []types.Command{
			goCmd(TestCommand, VerboseFlag, "-tags=integration", "-timeout="+IntegrationTestTimeout, AllPackagesPattern),
		}, nil
	case types.PhaseBenchmark:
		return []types.Command{
			goCmd(TestCommand, "-run=^$", "-bench=.", BenchMemFlag, "-benchtime="+BenchTime, AllPackagesPattern),
		}, nil
	case types.PhaseSecurity:
		return []types.Command{
			goCmd(VetCommand, AllPackagesPattern),
			goCmd("mod", "verify"),
		}, nil
	case types.PhasePerformance:
		return []types.Command{
			goCmd(TestCommand, VerboseFlag, "-run=Performance", AllPackagesPattern),
		}, nil
	case types.PhaseStaticAnalysis:
		gofmt := types.NewCommand("gofmt", "-l", CurrentDirPattern)
		gofmt.FailOnOutput = true
		return []types.Command{
			gofmt,
			goCmd(VetCommand, AllPackagesPattern),
		}, nil
	case types.PhaseCoverage:
		return []types.Command{
			goCmd(TestCommand, profile, CoverModeAtomic, AllPackagesPattern),
		}, nil
	}
	return nil, fmt.Errorf("no commands for phase %q", phase)
}

func (g *GoToolchain) CoverageSummaryCommand() types.Command {
	return types.NewCommand(g.GoBinary, ToolCommand, CoverTool, "-func="+g.profile())
}

func (g *GoToolchain) CoverageHTMLCommand(output string) types.Command {
	return types.NewCommand(g.GoBinary, ToolCommand, CoverTool, "-html="+g.profile(), "-o", output)
}

func (g *GoToolchain) profile() string {
	if g.ProfileName == "" {
		return DefaultProfileName
	}
	return g.ProfileName
}
