package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-coverage/history"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

func seedHistory(t *testing.T, path string) {
	t.Helper()
	store, err := history.Open(context.Background(), log.NewLogger(log.DiscardHandler()), path)
	require.NoError(t, err)
	defer store.Close()

	for i, pct := range []float64{72.5, 91} {
		r, err := types.NewUnitResult(types.UnitOutcome{
			Unit:      types.Unit{Name: "dns", Path: "/src/dns", Kind: types.UnitKindService},
			Requested: []types.Phase{types.PhaseUnit},
			Phases:    []types.PhaseResult{{Phase: types.PhaseUnit, Succeeded: true}},
			Coverage:  &types.CoverageReport{TotalPercent: pct, TotalFound: true},
		})
		require.NoError(t, err)
		ts := time.Date(2026, 1, 1+i, 12, 0, 0, 0, time.UTC)
		summary, err := types.NewProjectSummary("run-"+string(rune('a'+i)), ts, types.DefaultThresholds(),
			[]types.Phase{types.PhaseUnit}, []*types.UnitResult{r})
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), summary, ""))
	}
}

func runApp(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ExitErrHandler = nil
	require.NoError(t, app.Run(append([]string{"op-coverage"}, args...)))
	return out.String()
}

func TestHistoryCommand_Runs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	seedHistory(t, path)

	out := runApp(t, "history", "--history-db", path)
	assert.Contains(t, out, "Run History (2 runs)")
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "run-b")
	assert.Contains(t, out, "72.5%")
	assert.Contains(t, out, "Excellent")
	assert.Less(t, bytes.Index([]byte(out), []byte("run-b")), bytes.Index([]byte(out), []byte("run-a")), "newest first")

	out = runApp(t, "history", "--history-db", path, "--limit", "1")
	assert.Contains(t, out, "Run History (1 runs)")
	assert.NotContains(t, out, "run-a")
}

func TestHistoryCommand_Unit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	seedHistory(t, path)

	out := runApp(t, "history", "--history-db", path, "dns")
	assert.Contains(t, out, "Coverage History: dns")
	assert.Contains(t, out, "91.0%")
	assert.Contains(t, out, "Acceptable")
}

func TestHistoryCommand_DefaultsToReportDir(t *testing.T) {
	dir := t.TempDir()
	seedHistory(t, filepath.Join(dir, history.DefaultFilename))

	out := runApp(t, "history", "--report-dir", dir)
	assert.Contains(t, out, "Run History (2 runs)")
}
