package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// AggregatorConfig configures a ProjectAggregator.
type AggregatorConfig struct {
	Log        log.Logger
	Driver     UnitTestDriver
	Progress   ProgressIndicator
	Thresholds types.CoverageThresholds
	// Concurrency is the number of workers. 0 picks one per CPU, 1 runs serially.
	Concurrency int
	// Now is the clock used to timestamp summaries.
	Now func() time.Time
}

// ProjectAggregator runs every unit and merges the results into a summary.
type ProjectAggregator struct {
	log         log.Logger
	driver      UnitTestDriver
	progress    ProgressIndicator
	thresholds  types.CoverageThresholds
	concurrency int
	now         func() time.Time
	tracer      trace.Tracer
}

// unitWork is the set of units sharing one working directory. They run
// sequentially because the coverage profile path is fixed per directory.
type unitWork struct {
	indexes []int
}

// resultCollector is the single aggregation point for concurrently finishing units.
type resultCollector struct {
	mu      sync.Mutex
	results []*types.UnitResult
}

func (c *resultCollector) add(index int, r *types.UnitResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[index] = r
}

func NewProjectAggregator(cfg AggregatorConfig) (*ProjectAggregator, error) {
	if cfg.Driver == nil {
		return nil, errors.New("unit driver is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if cfg.Concurrency < 0 {
		return nil, errors.New("concurrency cannot be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Concurrency > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", cfg.Concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	return &ProjectAggregator{
		log:         cfg.Log.New("component", "aggregator"),
		driver:      cfg.Driver,
		progress:    cfg.Progress,
		thresholds:  cfg.Thresholds,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
		tracer:      otel.Tracer("project aggregator"),
	}, nil
}

// Run executes every unit under a fresh run ID.
func (a *ProjectAggregator) Run(ctx context.Context, units []types.Unit, phases []types.Phase) (*types.ProjectSummary, error) {
	return a.RunWithID(ctx, uuid.New().String(), units, phases)
}

// RunWithID executes every unit and returns the merged summary. It only fails
// on invalid input: unit failures are part of the summary.
func (a *ProjectAggregator) RunWithID(ctx context.Context, runID string, units []types.Unit, phases []types.Phase) (*types.ProjectSummary, error) {
	if err := types.ValidateUnits(units); err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		return nil, errors.New("no phases requested")
	}
	for _, p := range phases {
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid phase %q", p)
		}
	}
	phases = normalizePhases(phases)

	ctx, span := a.tracer.Start(ctx, fmt.Sprintf("run %s", runID))
	defer span.End()
	span.SetAttributes(attribute.Int("units", len(units)))

	start := a.now()
	work := groupByPath(units)
	workers := a.workerCount(len(work))
	a.log.Info("Running units", "runID", runID, "units", len(units), "groups", len(work),
		"workers", workers, "phases", phases)
	a.progress.StartRun(runID, len(units))

	collector := &resultCollector{results: make([]*types.UnitResult, len(units))}
	workChan := make(chan unitWork, len(work))
	for _, w := range work {
		workChan <- w
	}
	close(workChan)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workChan {
				for _, idx := range w.indexes {
					// Execute checks ctx itself and records unstarted phases, so every
					// unit gets a result even after cancellation.
					collector.add(idx, a.execute(ctx, units[idx], phases))
				}
			}
		}()
	}
	wg.Wait()

	summary, err := types.NewProjectSummary(runID, start, a.thresholds, phases, collector.results)
	if err != nil {
		return nil, fmt.Errorf("failed to build summary: %w", err)
	}
	summary.Duration = a.now().Sub(start)

	a.progress.CompleteRun(summary)
	a.log.Info("Run completed", "runID", runID, "passed", summary.PassedUnits, "failed", summary.FailedUnits,
		"averageCoverage", summary.AverageCoverage, "noData", summary.CoverageNoData, "duration", summary.Duration)
	return summary, nil
}

func (a *ProjectAggregator) execute(ctx context.Context, unit types.Unit, phases []types.Phase) *types.UnitResult {
	if r := a.driver.Execute(ctx, unit, phases); r != nil {
		return r
	}
	a.log.Error("Driver returned no result", "unit", unit.Name)
	return &types.UnitResult{
		Unit:            unit,
		RequestedPhases: phases,
		Phases:          []types.PhaseResult{types.SetupFailure("driver returned no result")},
	}
}

func (a *ProjectAggregator) workerCount(groups int) int {
	n := a.concurrency
	if n == 0 {
		n = min(runtime.NumCPU(), MaxReasonableConcurrency)
	}
	return max(1, min(n, groups))
}

// groupByPath groups unit indexes by working directory, preserving declaration order.
func groupByPath(units []types.Unit) []unitWork {
	byPath := make(map[string]int)
	var work []unitWork
	for i, u := range units {
		path := filepath.Clean(u.Path)
		if g, ok := byPath[path]; ok {
			work[g].indexes = append(work[g].indexes, i)
			continue
		}
		byPath[path] = len(work)
		work = append(work, unitWork{indexes: []int{i}})
	}
	return work
}
