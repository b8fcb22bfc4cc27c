package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-coverage/coverage"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// UnitTestDriver runs the requested phases for one unit.
type UnitTestDriver interface {
	// Execute always returns a result. Failures of any kind are recorded in it.
	Execute(ctx context.Context, unit types.Unit, phases []types.Phase) *types.UnitResult
}

// DriverConfig holds the collaborators of a unit driver.
type DriverConfig struct {
	Log       log.Logger
	Runner    ProcessRunner
	Toolchain Toolchain
	Parser    coverage.Parser
	Progress  ProgressIndicator
	// Timeout bounds each invocation unless the unit sets its own.
	Timeout time.Duration
	// CoverageFrom selects the phase whose profile is summarized. When empty,
	// or not requested, the coverage phase is preferred over the unit phase.
	CoverageFrom types.Phase
	// CoverageHTML renders the profile to coverage.html in the unit directory.
	CoverageHTML bool
}

type unitDriver struct {
	log          log.Logger
	runner       ProcessRunner
	toolchain    Toolchain
	parser       coverage.Parser
	progress     ProgressIndicator
	timeout      time.Duration
	coverageFrom types.Phase
	coverageHTML bool
	tracer       trace.Tracer
}

var _ UnitTestDriver = (*unitDriver)(nil)

// NewUnitTestDriver creates a driver from its config.
func NewUnitTestDriver(cfg DriverConfig) (UnitTestDriver, error) {
	if cfg.Runner == nil {
		return nil, errors.New("process runner is required")
	}
	if cfg.Toolchain == nil {
		return nil, errors.New("toolchain is required")
	}
	if cfg.CoverageFrom != "" && !cfg.CoverageFrom.ProducesCoverage() {
		return nil, fmt.Errorf("phase %q does not produce a coverage profile", cfg.CoverageFrom)
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Parser == nil {
		cfg.Parser = coverage.FuncParser{}
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &unitDriver{
		log:          cfg.Log.New("component", "unit-driver"),
		runner:       cfg.Runner,
		toolchain:    cfg.Toolchain,
		parser:       cfg.Parser,
		progress:     cfg.Progress,
		timeout:      cfg.Timeout,
		coverageFrom: cfg.CoverageFrom,
		coverageHTML: cfg.CoverageHTML,
		tracer:       otel.Tracer("unit driver"),
	}, nil
}

func (d *unitDriver) Execute(ctx context.Context, unit types.Unit, phases []types.Phase) (result *types.UnitResult) {
	start := time.Now()
	requested := normalizePhases(phases)

	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("unit %s", unit.Name))
	defer span.End()

	d.progress.StartUnit(unit)
	defer func() {
		d.progress.CompleteUnit(result)
	}()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Panic while executing unit", "unit", unit.Name, "panic", r)
			span.SetStatus(codes.Error, "panic")
			result = d.finish(types.UnitOutcome{
				Unit:      unit,
				Requested: requested,
				Phases:    []types.PhaseResult{types.SetupFailure(fmt.Sprintf("panic: %v", r))},
				StartedAt: start,
				Duration:  time.Since(start),
			})
		}
	}()

	if reason := checkWorkDir(unit.Path); reason != "" {
		d.log.Warn("Unit setup failed", "unit", unit.Name, "reason", reason)
		setup := types.SetupFailure(reason)
		d.progress.CompletePhase(unit, setup)
		span.SetStatus(codes.Error, reason)
		return d.finish(types.UnitOutcome{
			Unit:      unit,
			Requested: requested,
			Phases:    []types.PhaseResult{setup},
			StartedAt: start,
			Duration:  time.Since(start),
		})
	}

	timeout := d.timeout
	if unit.Timeout > 0 {
		timeout = unit.Timeout
	}

	results := make([]types.PhaseResult, 0, len(requested))
	for _, phase := range requested {
		var pr types.PhaseResult
		if ctx.Err() != nil {
			pr = notRun(phase, context.Cause(ctx))
		} else {
			pr = d.runPhase(ctx, unit, phase, timeout)
		}
		d.progress.CompletePhase(unit, pr)
		results = append(results, pr)
	}

	outcome := types.UnitOutcome{
		Unit:      unit,
		Requested: requested,
		Phases:    results,
		StartedAt: start,
	}
	if source := d.coverageSource(requested); source != "" && ctx.Err() == nil {
		if pr, ok := findPhase(results, source); ok && pr.Succeeded {
			outcome.Coverage, outcome.CoverageSummary = d.collectCoverage(ctx, unit, timeout)
			if d.coverageHTML && outcome.Coverage != nil {
				outcome.CoverageHTML = d.renderCoverageHTML(ctx, unit, timeout)
			}
		} else {
			d.log.Debug("Skipping coverage summary, source phase did not succeed", "unit", unit.Name, "source", source)
		}
	}
	outcome.Duration = time.Since(start)

	result = d.finish(outcome)
	if !result.OverallSuccess {
		span.SetStatus(codes.Error, "unit failed")
	}
	return result
}

// runPhase runs every step of a phase. The phase fails with the first nonzero
// step status; later steps still run so their diagnostics are captured.
func (d *unitDriver) runPhase(ctx context.Context, unit types.Unit, phase types.Phase, timeout time.Duration) types.PhaseResult {
	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("phase %s", phase))
	defer span.End()

	start := time.Now()
	cmds, err := d.toolchain.PhaseCommands(phase)
	if err != nil {
		return types.PhaseResult{Phase: phase, ExitStatus: NotRunExitStatus, Stderr: err.Error()}
	}

	var (
		stdout, stderr strings.Builder
		cmdStrs        []string
		exitStatus     int
		timedOut       bool
	)
	multi := len(cmds) > 1
	for _, c := range cmds {
		if ctx.Err() != nil {
			if exitStatus == 0 {
				exitStatus = NotRunExitStatus
			}
			appendOutput(&stderr, "", fmt.Sprintf("not run: %s: %v", c, context.Cause(ctx)))
			break
		}
		cmdStrs = append(cmdStrs, c.String())
		res := d.runner.Run(ctx, c, unit.Path, timeout)

		status := res.ExitStatus
		if status == 0 && c.FailOnOutput && strings.TrimSpace(res.Stdout) != "" {
			status = 1
			res.Stderr = withCause(fmt.Sprintf("%s reported problems", c), res.Stderr)
		}
		header := ""
		if multi {
			header = "$ " + c.String()
		}
		appendOutput(&stdout, header, res.Stdout)
		appendOutput(&stderr, header, res.Stderr)

		if exitStatus == 0 && status != 0 {
			exitStatus = status
		}
		timedOut = timedOut || res.TimedOut
	}

	pr, err := types.NewPhaseResult(phase, exitStatus, stdout.String(), stderr.String(), time.Since(start))
	if err != nil {
		d.log.Error("Invalid phase result", "unit", unit.Name, "phase", phase, "err", err)
		pr = types.PhaseResult{Phase: phase, ExitStatus: NotRunExitStatus, Stderr: err.Error()}
	}
	pr.Command = strings.Join(cmdStrs, " && ")
	pr.TimedOut = timedOut
	if countsTests(phase) {
		pr.Tests = countTests(pr.Stdout)
	}
	if !pr.Succeeded {
		span.SetStatus(codes.Error, fmt.Sprintf("exit status %d", pr.ExitStatus))
	}
	return pr
}

// collectCoverage summarizes the unit's profile. A nil report means no data.
func (d *unitDriver) collectCoverage(ctx context.Context, unit types.Unit, timeout time.Duration) (*types.CoverageReport, *types.PhaseResult) {
	cmd := d.toolchain.CoverageSummaryCommand()
	res := d.runner.Run(ctx, cmd, unit.Path, timeout)
	summary := &types.PhaseResult{
		Phase:      types.PhaseCoverage,
		Command:    cmd.String(),
		ExitStatus: res.ExitStatus,
		Succeeded:  res.ExitStatus == 0,
		TimedOut:   res.TimedOut,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		Duration:   res.Duration,
	}
	if !summary.Succeeded {
		d.log.Warn("Coverage summary failed", "unit", unit.Name, "exitStatus", res.ExitStatus, "stderr", firstLine(res.Stderr))
		return nil, summary
	}

	report := d.parser.Parse(res.Stdout)
	if err := report.Validate(); err != nil {
		d.log.Warn("Discarding malformed coverage report", "unit", unit.Name, "err", err)
		return nil, summary
	}
	if report.NoData() {
		d.log.Warn("Coverage output had no total", "unit", unit.Name, "skippedLines", report.SkippedLines)
	} else {
		d.log.Debug("Parsed coverage", "unit", unit.Name, "total", report.TotalPercent,
			"entries", len(report.Entries), "skippedLines", report.SkippedLines)
	}
	return report, summary
}

func (d *unitDriver) renderCoverageHTML(ctx context.Context, unit types.Unit, timeout time.Duration) string {
	out := filepath.Join(unit.Path, DefaultCoverageHTML)
	res := d.runner.Run(ctx, d.toolchain.CoverageHTMLCommand(out), unit.Path, timeout)
	if res.ExitStatus != 0 {
		d.log.Warn("Failed to render coverage HTML", "unit", unit.Name, "stderr", firstLine(res.Stderr))
		return ""
	}
	return out
}

func (d *unitDriver) coverageSource(requested []types.Phase) types.Phase {
	if d.coverageFrom != "" && slices.Contains(requested, d.coverageFrom) {
		return d.coverageFrom
	}
	for _, p := range []types.Phase{types.PhaseCoverage, types.PhaseUnit} {
		if slices.Contains(requested, p) {
			return p
		}
	}
	return ""
}

// finish builds the immutable result, degrading to a result without coverage
// if the outcome does not validate.
func (d *unitDriver) finish(o types.UnitOutcome) *types.UnitResult {
	r, err := types.NewUnitResult(o)
	if err == nil {
		return r
	}
	d.log.Error("Invalid unit outcome", "unit", o.Unit.Name, "err", err)
	o.Coverage = nil
	if r, err = types.NewUnitResult(o); err == nil {
		return r
	}
	return &types.UnitResult{
		Unit:            o.Unit,
		RequestedPhases: o.Requested,
		Phases:          append(o.Phases, types.SetupFailure(err.Error())),
		StartedAt:       o.StartedAt,
		Duration:        o.Duration,
	}
}

func checkWorkDir(path string) string {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("working directory %s does not exist", path)
	case err != nil:
		return fmt.Sprintf("cannot access working directory: %v", err)
	case !info.IsDir():
		return fmt.Sprintf("working directory %s is not a directory", path)
	}
	return ""
}

func notRun(phase types.Phase, cause error) types.PhaseResult {
	return types.PhaseResult{
		Phase:      phase,
		ExitStatus: NotRunExitStatus,
		Stderr:     fmt.Sprintf("not run: %v", cause),
	}
}

func normalizePhases(phases []types.Phase) []types.Phase {
	set := make(map[types.Phase]bool, len(phases))
	for _, p := range phases {
		if p.IsValid() {
			set[p] = true
		}
	}
	return types.OrderPhases(set)
}

func findPhase(results []types.PhaseResult, phase types.Phase) (types.PhaseResult, bool) {
	for _, pr := range results {
		if pr.Phase == phase {
			return pr, true
		}
	}
	return types.PhaseResult{}, false
}

func appendOutput(b *strings.Builder, header, text string) {
	if text == "" {
		return
	}
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
	if header != "" {
		b.WriteString(header)
		b.WriteByte('\n')
	}
	b.WriteString(text)
}
