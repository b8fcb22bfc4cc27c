package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-coverage/types"
	"github.com/ethereum/go-ethereum/log"
)

// ProgressIndicator receives progress as a run proceeds. Implementations must
// be safe for concurrent use: units report from separate workers.
type ProgressIndicator interface {
	StartRun(runID string, totalUnits int)
	StartUnit(unit types.Unit)
	CompletePhase(unit types.Unit, result types.PhaseResult)
	CompleteUnit(result *types.UnitResult)
	CompleteRun(summary *types.ProjectSummary)
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(runID string, totalUnits int)                   {}
func (n *noOpProgressIndicator) StartUnit(unit types.Unit)                               {}
func (n *noOpProgressIndicator) CompletePhase(unit types.Unit, result types.PhaseResult) {}
func (n *noOpProgressIndicator) CompleteUnit(result *types.UnitResult)                   {}
func (n *noOpProgressIndicator) CompleteRun(summary *types.ProjectSummary)               {}

// multiProgressIndicator fans progress out to several indicators.
type multiProgressIndicator []ProgressIndicator

// NewMultiProgressIndicator combines indicators. Nil entries are dropped.
func NewMultiProgressIndicator(indicators ...ProgressIndicator) ProgressIndicator {
	var m multiProgressIndicator
	for _, ind := range indicators {
		if ind != nil {
			m = append(m, ind)
		}
	}
	if len(m) == 0 {
		return NewNoOpProgressIndicator()
	}
	return m
}

func (m multiProgressIndicator) StartRun(runID string, totalUnits int) {
	for _, ind := range m {
		ind.StartRun(runID, totalUnits)
	}
}

func (m multiProgressIndicator) StartUnit(unit types.Unit) {
	for _, ind := range m {
		ind.StartUnit(unit)
	}
}

func (m multiProgressIndicator) CompletePhase(unit types.Unit, result types.PhaseResult) {
	for _, ind := range m {
		ind.CompletePhase(unit, result)
	}
}

func (m multiProgressIndicator) CompleteUnit(result *types.UnitResult) {
	for _, ind := range m {
		ind.CompleteUnit(result)
	}
}

func (m multiProgressIndicator) CompleteRun(summary *types.ProjectSummary) {
	for _, ind := range m {
		ind.CompleteRun(summary)
	}
}

// ConsoleProgressIndicator logs every completed phase and periodically
// reports the units still running.
type ConsoleProgressIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	runID          string
	totalUnits     int
	completedUnits int
	runStartTime   time.Time

	// Track currently running units
	runningUnits map[string]time.Time // unit name -> start time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) *ConsoleProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second // Default to 30 seconds
	}

	indicator := &ConsoleProgressIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningUnits: make(map[string]time.Time),
	}

	// Start the progress reporting goroutine
	go indicator.progressReporter()

	return indicator
}

func (c *ConsoleProgressIndicator) StartRun(runID string, totalUnits int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runID = runID
	c.totalUnits = totalUnits
	c.completedUnits = 0
	c.runStartTime = time.Now()
	c.runningUnits = make(map[string]time.Time)

	c.logger.Info("Starting run", "runID", runID, "units", totalUnits)
}

func (c *ConsoleProgressIndicator) StartUnit(unit types.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningUnits[unit.Name] = time.Now()
	c.logger.Debug("Unit started", "unit", unit.Name, "path", unit.Path, "runningUnits", len(c.runningUnits))
}

func (c *ConsoleProgressIndicator) CompletePhase(unit types.Unit, result types.PhaseResult) {
	fields := []interface{}{
		"unit", unit.Name,
		"phase", result.Phase,
		"exitStatus", result.ExitStatus,
		"duration", result.Duration.Truncate(time.Millisecond),
	}
	if result.Tests != nil {
		fields = append(fields, "passed", result.Tests.Passed, "failed", result.Tests.Failed)
	}
	switch {
	case result.Succeeded:
		c.logger.Info("Phase passed", fields...)
	case result.TimedOut:
		c.logger.Warn("Phase timed out", fields...)
	default:
		c.logger.Warn("Phase failed", append(fields, "stderr", firstLine(result.Stderr))...)
	}
}

func (c *ConsoleProgressIndicator) CompleteUnit(result *types.UnitResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningUnits, result.Unit.Name)
	c.completedUnits++

	coverage := "no data"
	if pct, ok := result.Coverage.Percent(); ok {
		coverage = fmt.Sprintf("%.1f%%", pct)
	}
	c.logger.Info("Completed unit", "unit", result.Unit.Name, "success", result.OverallSuccess,
		"coverage", coverage, "completed", c.completedUnits, "total", c.totalUnits,
		"duration", result.Duration.Truncate(time.Millisecond))
}

func (c *ConsoleProgressIndicator) CompleteRun(summary *types.ProjectSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.runStartTime).Truncate(time.Second)
	c.logger.Info("Completed run", "runID", summary.RunID, "passed", summary.PassedUnits,
		"failed", summary.FailedUnits, "duration", duration)
	c.runningUnits = make(map[string]time.Time)
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *ConsoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *ConsoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.runningUnits) == 0 {
		return
	}

	var percentComplete float64
	if c.totalUnits > 0 {
		percentComplete = float64(c.completedUnits) * 100.0 / float64(c.totalUnits)
	}

	c.logger.Info("Progress update",
		"runID", c.runID,
		"completed", c.completedUnits,
		"total", c.totalUnits,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningUnits),
		"longestRunning", formatRunning(c.runningUnits, 3))
}

// Stop stops the periodic reporter. It is safe to call more than once.
func (c *ConsoleProgressIndicator) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunning lists the longest-running entries first
func formatRunning(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type entry struct {
		name     string
		duration time.Duration
	}
	now := time.Now()
	entries := make([]entry, 0, len(running))
	for name, startTime := range running {
		entries = append(entries, entry{name: name, duration: now.Sub(startTime)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].duration == entries[j].duration {
			return entries[i].name < entries[j].name
		}
		return entries[i].duration > entries[j].duration
	})

	var parts []string
	for i, e := range entries {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", e.name, e.duration.Truncate(time.Second)))
	}
	if len(entries) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(entries)-maxShow))
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
