package opcov

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-coverage/history"
	"github.com/ethereum-optimism/infra/op-coverage/metrics"
	"github.com/ethereum-optimism/infra/op-coverage/reporting"
	"github.com/ethereum-optimism/infra/op-coverage/service"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

var _ cliapp.Lifecycle = &orchestrator{}

// orchestrator drives coverage runs for the configured units and publishes
// their reports.
type orchestrator struct {
	ctx     context.Context
	config  *Config
	version string

	executor  RunExecutor
	scheduler RunScheduler
	formatter ResultFormatter
	reporter  MetricsReporter
	emitter   reporting.ReportEmitter
	service   *service.Service
	history   *history.Store

	mu          sync.Mutex
	lastSummary *types.ProjectSummary
	lastHandle  reporting.RecordHandle

	running atomic.Bool

	newRunID         func() string
	shutdownCallback func(error)
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*orchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config has no logger")
	}

	config.Log.Debug("Creating orchestrator with config",
		"projectRoot", config.ProjectRoot,
		"units", len(config.Units),
		"phases", config.Phases,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	emitter, err := reporting.NewEmitter(config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create report emitter: %w", err)
	}

	return &orchestrator{
		ctx:              ctx,
		config:           config,
		version:          version,
		executor:         NewDefaultRunExecutor(config, nil),
		scheduler:        NewDefaultRunScheduler(config.RunInterval, config.RunOnce, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log, os.Stdout),
		reporter:         NewDefaultMetricsReporter(),
		emitter:          emitter,
		service:          service.New(config.Log, config.Service),
		newRunID:         func() string { return uuid.New().String() },
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start implements cliapp.Lifecycle. In run-once mode it returns the outcome of
// the single run as a typed error; otherwise it returns once the first run has
// completed and keeps running on the configured interval.
func (o *orchestrator) Start(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.config.Log.Error("Runtime error occurred", "error", r)
			err = NewRuntimeError(fmt.Errorf("panic: %v", r))
		}
	}()

	o.ctx = ctx
	o.running.Store(true)

	if o.config.RunOnce {
		o.config.Log.Info("Starting op-coverage in run-once mode", "version", o.version)
	} else {
		o.config.Log.Info("Starting op-coverage in continuous mode", "version", o.version, "interval", o.config.RunInterval)
	}

	o.openHistory(ctx)
	o.service.Start()

	o.scheduler.RegisterCallback(o.runCoverage)
	if err := o.scheduler.Start(ctx); err != nil {
		o.config.Log.Error("Runtime error running coverage", "error", err)
		if !IsRuntimeError(err) {
			err = NewRuntimeError(err)
		}
		return err
	}

	if !o.config.RunOnce {
		o.config.Log.Debug("op-coverage started successfully")
		return nil
	}

	o.config.Log.Info("Run completed, exiting (run-once mode)")
	if summary := o.LastSummary(); summary != nil && !summary.Succeeded() {
		o.config.Log.Warn("Run-once coverage run failed, returning exit code 1", "reason", summary.FailureReason())
		return NewTestFailureError(summary.FailureReason())
	}
	go func() {
		if o.shutdownCallback != nil {
			o.shutdownCallback(nil)
		}
	}()
	return nil
}

// runCoverage performs one run. Only operational failures are returned:
// failing units and the coverage gate are part of the summary.
func (o *orchestrator) runCoverage() error {
	ctx := o.ctx
	runID := o.newRunID()

	summary, err := o.executor.Execute(ctx, runID)
	if err != nil {
		metrics.RecordErrorDetails("run", err)
		return NewRuntimeError(fmt.Errorf("run %s: %w", runID, err))
	}

	if err := o.formatter.FormatResults(summary); err != nil {
		o.config.Log.Warn("Failed to print results", "error", err)
	}

	// A canceled run still gets its partial results written.
	handle, err := o.emitter.Emit(context.WithoutCancel(ctx), summary, o.config.ReportDir)
	if err != nil {
		metrics.RecordErrorDetails("emit", err)
		return NewRuntimeError(fmt.Errorf("failed to write report for run %s: %w", runID, err))
	}
	o.config.Log.Info("Report written", "runID", runID, "record", handle.RecordPath, "html", handle.HTMLPath)

	o.recordHistory(context.WithoutCancel(ctx), summary, handle.RecordPath)
	o.reporter.ReportResults(summary)

	o.mu.Lock()
	o.lastSummary = summary
	o.lastHandle = handle
	o.mu.Unlock()

	o.config.Log.Info("Coverage run completed", "runID", runID, "succeeded", summary.Succeeded(),
		"averageCoverage", summary.AverageCoverage, "band", summary.Band)

	if cause := context.Cause(ctx); cause != nil {
		return NewRuntimeError(fmt.Errorf("run %s interrupted: %w", runID, cause))
	}
	return nil
}

// openHistory opens the run history. History is an index of the report
// records, so a store that cannot be opened only disables it.
func (o *orchestrator) openHistory(ctx context.Context) {
	if o.history != nil || o.config.HistoryDB == "" {
		return
	}
	store, err := history.Open(ctx, o.config.Log, o.config.HistoryDB)
	if err != nil {
		o.config.Log.Warn("Run history disabled", "path", o.config.HistoryDB, "error", err)
		metrics.RecordErrorDetails("history", err)
		return
	}
	o.history = store
}

func (o *orchestrator) recordHistory(ctx context.Context, summary *types.ProjectSummary, recordPath string) {
	if o.history == nil {
		return
	}
	err := o.history.Append(ctx, summary, recordPath)
	metrics.RecordHistoryWrite(err)
	if err != nil {
		o.config.Log.Warn("Failed to record run history", "runID", summary.RunID, "error", err)
	}
}

// Stop implements cliapp.Lifecycle.
func (o *orchestrator) Stop(ctx context.Context) error {
	o.config.Log.Info("Stopping op-coverage")
	if !o.running.CompareAndSwap(true, false) {
		o.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	var result error
	if err := o.scheduler.Stop(); err != nil {
		result = errors.Join(result, err)
	}
	if err := o.scheduler.WaitForShutdown(ctx); err != nil {
		result = errors.Join(result, err)
	}
	o.service.Shutdown(ctx)
	if o.history != nil {
		if err := o.history.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("closing history: %w", err))
		}
	}

	o.config.Log.Info("op-coverage stopped")
	return result
}

// Stopped implements cliapp.Lifecycle.
func (o *orchestrator) Stopped() bool {
	return !o.running.Load()
}

// LastSummary returns the summary of the most recent completed run.
func (o *orchestrator) LastSummary() *types.ProjectSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSummary
}

// LastReport returns the artifacts of the most recent completed run.
func (o *orchestrator) LastReport() reporting.RecordHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastHandle
}
