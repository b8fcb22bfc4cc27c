package opcov

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-coverage/history"
	"github.com/ethereum-optimism/infra/op-coverage/reporting"
	"github.com/ethereum-optimism/infra/op-coverage/service"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// mockExecutor returns canned summaries and counts executions.
type mockExecutor struct {
	mock.Mock
	execCount atomic.Int32
}

func (m *mockExecutor) Execute(ctx context.Context, runID string) (*types.ProjectSummary, error) {
	m.execCount.Add(1)
	args := m.Called(runID)
	summary, _ := args.Get(0).(*types.ProjectSummary)
	return summary, args.Error(1)
}

func makeSummary(t *testing.T, runID string, coverage float64, fail bool) *types.ProjectSummary {
	t.Helper()
	pr := types.PhaseResult{Phase: types.PhaseUnit, Succeeded: !fail, Duration: time.Second}
	if fail {
		pr.ExitStatus = 1
		pr.Stderr = "FAIL"
	}
	r, err := types.NewUnitResult(types.UnitOutcome{
		Unit:      types.Unit{Name: "dns", Path: "/src/dns", Kind: types.UnitKindService},
		Requested: []types.Phase{types.PhaseUnit},
		Phases:    []types.PhaseResult{pr},
		Coverage:  &types.CoverageReport{TotalPercent: coverage, TotalFound: true},
		Duration:  time.Second,
	})
	require.NoError(t, err)
	s, err := types.NewProjectSummary(runID, time.Now(), types.DefaultThresholds(), []types.Phase{types.PhaseUnit}, []*types.UnitResult{r})
	require.NoError(t, err)
	return s
}

func newTestOrchestrator(t *testing.T, cfg *Config, exec RunExecutor) (*orchestrator, *bytes.Buffer, chan error) {
	t.Helper()
	emitter, err := reporting.NewEmitter(cfg.Log)
	require.NoError(t, err)

	var out bytes.Buffer
	shutdown := make(chan error, 1)
	var seq atomic.Int32
	o := &orchestrator{
		ctx:       context.Background(),
		config:    cfg,
		version:   "test",
		executor:  exec,
		scheduler: NewDefaultRunScheduler(cfg.RunInterval, cfg.RunOnce, cfg.Log),
		formatter: NewConsoleResultFormatter(cfg.Log, &out),
		reporter:  NewDefaultMetricsReporter(),
		emitter:   emitter,
		service:   service.New(cfg.Log, service.Config{}),
		newRunID: func() string {
			return "run-" + string(rune('0'+seq.Add(1)))
		},
		shutdownCallback: func(err error) { shutdown <- err },
	}
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	return o, &out, shutdown
}

func TestOrchestrator_RunOnceSuccess(t *testing.T) {
	cfg := testConfig(t, "dns")
	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Return(makeSummary(t, "run-1", 85, false), nil).Once()

	o, out, shutdown := newTestOrchestrator(t, cfg, exec)
	require.NoError(t, o.Start(context.Background()))

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not called")
	}
	exec.AssertExpectations(t)

	assert.Contains(t, out.String(), "Result: PASS")
	assert.FileExists(t, filepath.Join(cfg.ReportDir, reporting.LatestFilename))
	assert.FileExists(t, filepath.Join(cfg.ReportDir, reporting.HTMLFilename))
	assert.Equal(t, "run-1", o.LastSummary().RunID)
	assert.FileExists(t, o.LastReport().RecordPath)

	runs, err := o.history.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, o.LastReport().RecordPath, runs[0].RecordPath)
}

func TestOrchestrator_RunOnceTestFailure(t *testing.T) {
	cfg := testConfig(t, "dns")
	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Return(makeSummary(t, "run-1", 85, true), nil)

	o, out, shutdown := newTestOrchestrator(t, cfg, exec)
	err := o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out.String(), "Result: FAIL")

	select {
	case <-shutdown:
		t.Fatal("shutdown callback must not be called for failures")
	default:
	}
	assert.FileExists(t, filepath.Join(cfg.ReportDir, reporting.LatestFilename), "failed runs are still reported")
}

func TestOrchestrator_RunOnceBelowMinimum(t *testing.T) {
	cfg := testConfig(t, "dns")
	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Return(makeSummary(t, "run-1", 40, false), nil)

	o, _, _ := newTestOrchestrator(t, cfg, exec)
	err := o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "below the minimum")
}

func TestOrchestrator_RunOnceRuntimeError(t *testing.T) {
	cfg := testConfig(t, "dns")
	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Return(nil, errors.New("no units configured"))

	o, _, _ := newTestOrchestrator(t, cfg, exec)
	err := o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Equal(t, 2, ExitCode(err))
	assert.NoFileExists(t, filepath.Join(cfg.ReportDir, reporting.LatestFilename))
}

func TestOrchestrator_PanicIsRuntimeError(t *testing.T) {
	cfg := testConfig(t, "dns")
	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Run(func(mock.Arguments) { panic("boom") }).Return(nil, nil)

	o, _, shutdown := newTestOrchestrator(t, cfg, exec)
	err := o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, err.Error(), "panic: boom")

	select {
	case <-shutdown:
		t.Fatal("shutdown callback must not be called after a panic")
	default:
	}
}

func TestOrchestrator_EmitFailureIsRuntimeError(t *testing.T) {
	cfg := testConfig(t, "dns")
	blocker := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.ReportDir = blocker
	cfg.HistoryDB = ""

	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Return(makeSummary(t, "run-1", 85, false), nil)

	o, _, _ := newTestOrchestrator(t, cfg, exec)
	err := o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Nil(t, o.history, "an empty history path disables history")
}

func TestOrchestrator_InterruptedRunIsReported(t *testing.T) {
	cfg := testConfig(t, "dns")
	ctx, cancel := context.WithCancel(context.Background())

	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Run(func(mock.Arguments) { cancel() }).
		Return(makeSummary(t, "run-1", 85, true), nil)

	o, _, _ := newTestOrchestrator(t, cfg, exec)
	err := o.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.FileExists(t, filepath.Join(cfg.ReportDir, reporting.LatestFilename))
}

func TestOrchestrator_Continuous(t *testing.T) {
	cfg := testConfig(t, "dns")
	cfg.RunOnce = false
	cfg.RunInterval = 10 * time.Millisecond

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything).Return(makeSummary(t, "run-x", 50, true), nil)

	o, _, shutdown := newTestOrchestrator(t, cfg, exec)
	require.NoError(t, o.Start(context.Background()), "failing runs do not stop continuous mode")
	assert.Eventually(t, func() bool { return exec.execCount.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, o.Stop(context.Background()))
	assert.True(t, o.Stopped())
	count := exec.execCount.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, exec.execCount.Load(), "no runs after Stop")

	select {
	case <-shutdown:
		t.Fatal("continuous mode must not request shutdown")
	default:
	}
}

func TestOrchestrator_HistoryUnavailable(t *testing.T) {
	cfg := testConfig(t, "dns")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.HistoryDB = filepath.Join(blocker, history.DefaultFilename)

	exec := &mockExecutor{}
	exec.On("Execute", "run-1").Return(makeSummary(t, "run-1", 85, false), nil)

	o, _, _ := newTestOrchestrator(t, cfg, exec)
	require.NoError(t, o.Start(context.Background()))
	assert.Nil(t, o.history)
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), nil, "v", nil)
	assert.Error(t, err)

	o, err := New(context.Background(), testConfig(t, "dns"), "v", func(error) {})
	require.NoError(t, err)
	assert.True(t, o.Stopped(), "not running before Start")
	assert.IsType(t, &DefaultRunExecutor{}, o.executor)
}
