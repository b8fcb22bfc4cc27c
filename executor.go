package opcov

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-coverage/logging"
	"github.com/ethereum-optimism/infra/op-coverage/runner"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// RunExecutor performs one coverage run over the configured units.
type RunExecutor interface {
	Execute(ctx context.Context, runID string) (*types.ProjectSummary, error)
}

// DefaultRunExecutor wires a unit driver and a project aggregator for every run.
// Each run gets its own log directory, so the driver is rebuilt per run.
type DefaultRunExecutor struct {
	config *Config
	runner runner.ProcessRunner
	logger log.Logger
}

var _ RunExecutor = (*DefaultRunExecutor)(nil)

// NewDefaultRunExecutor creates an executor. A nil process runner uses os/exec.
func NewDefaultRunExecutor(config *Config, processRunner runner.ProcessRunner) *DefaultRunExecutor {
	if processRunner == nil {
		processRunner = runner.NewExecRunner(config.Log)
	}
	return &DefaultRunExecutor{
		config: config,
		runner: processRunner,
		logger: config.Log,
	}
}

func (e *DefaultRunExecutor) Execute(ctx context.Context, runID string) (*types.ProjectSummary, error) {
	fileLogger, err := logging.NewFileLogger(e.logger, e.config.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}

	indicators := []runner.ProgressIndicator{fileLogger}
	if e.config.ShowProgress {
		console := runner.NewConsoleProgressIndicator(e.logger, e.config.ProgressInterval)
		defer console.Stop()
		indicators = append(indicators, console)
	}
	progress := runner.NewMultiProgressIndicator(indicators...)

	driver, err := runner.NewUnitTestDriver(runner.DriverConfig{
		Log:          e.logger,
		Runner:       e.runner,
		Toolchain:    runner.NewGoToolchain(e.config.GoBinary, e.config.Overrides),
		Progress:     progress,
		Timeout:      e.config.Timeout,
		CoverageFrom: e.config.CoverageFrom,
		CoverageHTML: e.config.CoverageHTML,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create unit driver: %w", err)
	}

	aggregator, err := runner.NewProjectAggregator(runner.AggregatorConfig{
		Log:         e.logger,
		Driver:      driver,
		Progress:    progress,
		Thresholds:  e.config.Thresholds,
		Concurrency: e.config.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	e.logger.Info("Running coverage", "runID", runID, "units", len(e.config.Units), "phases", e.config.Phases,
		"logDir", fileLogger.GetBaseDir())
	summary, err := aggregator.RunWithID(ctx, runID, e.config.Units, e.config.Phases)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Run logs written", "runID", runID, "dir", fileLogger.GetBaseDir(), "summary", fileLogger.GetSummaryFile())
	return summary, nil
}
