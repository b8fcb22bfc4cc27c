package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-coverage/types"
	"github.com/ethereum-optimism/infra/op-coverage/ui"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	SummaryFilename    = "summary.log"
	AllLogsFilename    = "all.log"
	PassedDirName      = "passed"
	FailedDirName      = "failed"
)

// ResultSink consumes phase results as they complete.
type ResultSink interface {
	// Consume processes a single phase result
	Consume(unit types.Unit, result types.PhaseResult) error
	// Complete is called once the run summary is available
	Complete(summary *types.ProjectSummary) error
}

// FileLogger writes per-phase logs and a run summary below
// <baseDir>/testrun-<runID>/. It is a progress indicator, so the aggregator
// feeds it directly.
type FileLogger struct {
	log          log.Logger
	baseDir      string                // Root log directory
	logDir       string                // Directory for this run
	passedDir    string                // Directory for passed phases
	failedDir    string                // Directory for failed phases
	summaryFile  string                // Path to the summary file
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects asyncWriters
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates the run directory layout for runID below baseDir.
func NewFileLogger(logger log.Logger, baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if logger == nil {
		logger = log.Root()
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	l := &FileLogger{
		log:          logger.New("component", "filelogger"),
		baseDir:      baseDir,
		logDir:       logDir,
		passedDir:    filepath.Join(logDir, PassedDirName),
		failedDir:    filepath.Join(logDir, FailedDirName),
		summaryFile:  filepath.Join(logDir, SummaryFilename),
		allLogsFile:  filepath.Join(logDir, AllLogsFilename),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}

	for _, dir := range []string{baseDir, logDir, l.passedDir, l.failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	l.sinks = []ResultSink{
		&AllLogsFileSink{logger: l},
		&PerPhaseFileSink{logger: l, written: make(map[string]bool)},
		&SummaryFileSink{logger: l},
	}
	return l, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close()
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// LogPhaseResult feeds one phase result through every sink.
func (l *FileLogger) LogPhaseResult(unit types.Unit, result types.PhaseResult) error {
	for _, sink := range l.sinks {
		if err := sink.Consume(unit, result); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}
	return nil
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete(summary *types.ProjectSummary) error {
	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Complete(summary); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error completing sink: %w", err)
		}
	}
	l.closeAllWriters()
	return firstErr
}

func (l *FileLogger) StartRun(runID string, totalUnits int) {
	if runID != l.runID {
		l.log.Warn("Run ID does not match log directory", "runID", runID, "logDir", l.logDir)
	}
}

func (l *FileLogger) StartUnit(unit types.Unit) {}

func (l *FileLogger) CompletePhase(unit types.Unit, result types.PhaseResult) {
	if err := l.LogPhaseResult(unit, result); err != nil {
		l.log.Error("Failed to write phase log", "unit", unit.Name, "phase", result.Phase, "err", err)
	}
}

func (l *FileLogger) CompleteUnit(result *types.UnitResult) {}

func (l *FileLogger) CompleteRun(summary *types.ProjectSummary) {
	if err := l.Complete(summary); err != nil {
		l.log.Error("Failed to finalize run logs", "runID", l.runID, "err", err)
	}
}

// GetBaseDir returns the directory for this run
func (l *FileLogger) GetBaseDir() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs of failed phases
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetPassedDir returns the directory containing logs of passed phases
func (l *FileLogger) GetPassedDir() string {
	return l.passedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// GetAllLogsFile returns the path to the all logs file
func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	s = strings.ReplaceAll(s, "...", "")
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// PhaseLogFilename is the file name of a phase log within the passed or failed directory.
func PhaseLogFilename(unit types.Unit, phase types.Phase) string {
	return safeFilename(fmt.Sprintf("%s_%s.log", unit.Name, phase))
}

// AllLogsFileSink writes every phase result to a single all.log file
type AllLogsFileSink struct {
	logger *FileLogger
}

func (s *AllLogsFileSink) Consume(unit types.Unit, result types.PhaseResult) error {
	writer, err := s.logger.getAsyncWriter(s.logger.allLogsFile)
	if err != nil {
		return err
	}

	var content strings.Builder
	fmt.Fprintf(&content, "\n")
	w := ui.DefaultBoxWidth
	content.WriteString(ui.BuildBoxHeader("UNIT: "+unit.Name+" / "+string(result.Phase), w))
	content.WriteString(ui.BuildBoxLine("Status:   "+statusLabel(result), w))
	content.WriteString(ui.BuildBoxLine("Path:     "+unit.Path, w))
	content.WriteString(ui.BuildBoxLine("Command:  "+result.Command, w))
	content.WriteString(ui.BuildBoxLine("Duration: "+formatDuration(result.Duration), w))
	content.WriteString(ui.BuildBoxFooter(w))
	content.WriteString("\n")

	if out := clean(result.Stdout); out != "" {
		fmt.Fprintf(&content, "STDOUT:\n~~~~~~~\n%s\n", indentText(out, "  "))
	}
	if errOut := clean(result.Stderr); errOut != "" {
		fmt.Fprintf(&content, "STDERR:\n~~~~~~~\n%s\n", indentText(errOut, "  "))
	}
	fmt.Fprintf(&content, "\n")

	return writer.Write([]byte(content.String()))
}

func (s *AllLogsFileSink) Complete(summary *types.ProjectSummary) error {
	return nil
}

// PerPhaseFileSink writes one file per phase into the passed or failed directory.
type PerPhaseFileSink struct {
	logger  *FileLogger
	written map[string]bool
	mu      sync.Mutex
}

func (s *PerPhaseFileSink) Consume(unit types.Unit, result types.PhaseResult) error {
	dir := s.logger.passedDir
	if !result.Succeeded {
		dir = s.logger.failedDir
	}
	path := filepath.Join(dir, PhaseLogFilename(unit, result.Phase))

	s.mu.Lock()
	if s.written[path] {
		s.mu.Unlock()
		return nil
	}
	s.written[path] = true
	s.mu.Unlock()

	var content strings.Builder
	fmt.Fprintf(&content, "Unit:        %s\n", unit.Name)
	fmt.Fprintf(&content, "Path:        %s\n", unit.Path)
	fmt.Fprintf(&content, "Phase:       %s\n", result.Phase)
	fmt.Fprintf(&content, "Command:     %s\n", result.Command)
	fmt.Fprintf(&content, "Status:      %s\n", statusLabel(result))
	fmt.Fprintf(&content, "Exit status: %d\n", result.ExitStatus)
	fmt.Fprintf(&content, "Duration:    %s\n", formatDuration(result.Duration))
	if result.Tests != nil {
		fmt.Fprintf(&content, "Tests:       %d passed, %d failed, %d skipped\n",
			result.Tests.Passed, result.Tests.Failed, result.Tests.Skipped)
	}
	fmt.Fprintf(&content, "\n=== STDOUT ===\n%s\n", clean(result.Stdout))
	fmt.Fprintf(&content, "\n=== STDERR ===\n%s\n", clean(result.Stderr))

	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("failed to write phase log %s: %w", path, err)
	}
	return nil
}

func (s *PerPhaseFileSink) Complete(summary *types.ProjectSummary) error {
	return nil
}

// SummaryFileSink writes summary.log once the run completes.
type SummaryFileSink struct {
	logger *FileLogger
}

func (s *SummaryFileSink) Consume(unit types.Unit, result types.PhaseResult) error {
	return nil
}

func (s *SummaryFileSink) Complete(summary *types.ProjectSummary) error {
	if summary == nil {
		return nil
	}
	writer, err := s.logger.getAsyncWriter(s.logger.summaryFile)
	if err != nil {
		return err
	}
	return writer.Write([]byte(FormatSummary(summary)))
}

// FormatSummary renders the plain-text run summary written to summary.log.
func FormatSummary(summary *types.ProjectSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:       %s\n", summary.RunID)
	fmt.Fprintf(&b, "Started:   %s\n", summary.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:  %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(&b, "Phases:    %s\n", joinPhases(summary.RequestedPhases))
	fmt.Fprintf(&b, "Units:     %d passed, %d failed, %d total (%.1f%%)\n",
		summary.PassedUnits, summary.FailedUnits, summary.TotalUnits, summary.PassRate)
	if summary.CoverageNoData {
		fmt.Fprintf(&b, "Coverage:  no data\n")
	} else {
		fmt.Fprintf(&b, "Coverage:  %.1f%% over %d units (%s)\n", summary.AverageCoverage, summary.CoverageUnits, summary.Band.Label())
	}
	b.WriteString("\n")

	for _, r := range summary.Results() {
		status := "PASS"
		if !r.OverallSuccess {
			status = "FAIL"
		}
		coverage := "no data"
		if pct, ok := r.Coverage.Percent(); ok {
			coverage = fmt.Sprintf("%.1f%%", pct)
		}
		fmt.Fprintf(&b, "%s  %-20s coverage=%-8s band=%-10s duration=%s",
			status, r.Unit.Name, coverage, summary.Bands[r.Unit.Name], formatDuration(r.Duration))
		if failed := r.FailedPhases(); len(failed) > 0 {
			fmt.Fprintf(&b, " failed=%s", joinPhases(failed))
		}
		b.WriteString("\n")
		for i, pr := range r.Phases {
			fmt.Fprintf(&b, "      %s%-16s %-7s %s\n", ui.BuildTreePrefix(1, i == len(r.Phases)-1, nil),
				pr.Phase, statusLabel(pr), formatDuration(pr.Duration))
		}
	}

	if reason := summary.FailureReason(); reason != "" {
		fmt.Fprintf(&b, "\nResult: FAIL (%s)\n", reason)
	} else {
		fmt.Fprintf(&b, "\nResult: PASS\n")
	}
	return b.String()
}

func statusLabel(r types.PhaseResult) string {
	switch {
	case r.Succeeded:
		return "PASS"
	case r.TimedOut:
		return "TIMEOUT"
	default:
		return "FAIL"
	}
}

func joinPhases(phases []types.Phase) string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}

// clean strips terminal escape codes and trailing whitespace from tool output.
func clean(s string) string {
	return strings.TrimRight(stripansi.Strip(s), " \t\r\n")
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
