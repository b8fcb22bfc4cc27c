package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestRegistry_DefaultUnits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "services", "dns", "go.mod"), "module example.com/dns\n\ngo 1.22\n")

	r, err := NewRegistry(Config{Log: testLogger(), ProjectRoot: root})
	require.NoError(t, err)

	units := r.Units()
	require.Len(t, units, 10)
	assert.Equal(t, "sample-app", units[0].Name)
	assert.Equal(t, types.UnitKindApplication, units[0].Kind)
	assert.Equal(t, filepath.Join(root, "sample-app"), units[0].Path)

	for _, u := range units[1:] {
		assert.Equal(t, types.UnitKindService, u.Kind)
		assert.Equal(t, filepath.Join(root, "services", u.Name), u.Path)
	}

	var dns types.Unit
	for _, u := range units {
		if u.Name == "dns" {
			dns = u
		}
	}
	assert.Equal(t, "example.com/dns", dns.Module)

	_, ok := r.Thresholds()
	assert.False(t, ok)
	_, ok = r.DefaultTimeout()
	assert.False(t, ok)
	assert.Nil(t, r.Overrides())
}

func TestRegistry_YAMLFile(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "units.yaml")
	writeFile(t, cfgPath, `
project_root: .
thresholds:
  minimum: 60
  target: 75
  excellent: 85
coverage_from: coverage
coverage_html: true
default_timeout: 2m
units:
  - name: api
    path: cmd/api
    kind: application
    timeout: 90s
  - name: worker
phases:
  static_analysis:
    - args: ["golangci-lint", "run"]
  benchmark:
    - args: ["go", "test", "-bench=.", "./..."]
`)

	r, err := NewRegistry(Config{Log: testLogger(), ConfigFile: cfgPath})
	require.NoError(t, err)

	assert.Equal(t, root, r.ProjectRoot())

	units := r.Units()
	require.Len(t, units, 2)
	assert.Equal(t, types.Unit{Name: "api", Path: filepath.Join(root, "cmd", "api"), Kind: types.UnitKindApplication, Timeout: 90 * time.Second}, units[0])
	assert.Equal(t, filepath.Join(root, "worker"), units[1].Path)
	assert.Equal(t, types.UnitKindService, units[1].Kind)

	th, ok := r.Thresholds()
	require.True(t, ok)
	assert.Equal(t, types.CoverageThresholds{Minimum: 60, Target: 75, Excellent: 85}, th)

	from, ok := r.CoverageFrom()
	require.True(t, ok)
	assert.Equal(t, types.PhaseCoverage, from)

	html, ok := r.CoverageHTML()
	assert.True(t, ok)
	assert.True(t, html)

	timeout, ok := r.DefaultTimeout()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, timeout)

	overrides := r.Overrides()
	require.Len(t, overrides, 2)
	assert.Equal(t, []types.Command{types.NewCommand("golangci-lint", "run")}, overrides[types.PhaseStaticAnalysis])
}

func TestRegistry_RootDefaultsToUnitFileDir(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "units.yaml")
	writeFile(t, cfgPath, `
units:
  - name: dns
    path: services/dns
`)

	r, err := NewRegistry(Config{Log: testLogger(), ConfigFile: cfgPath})
	require.NoError(t, err)
	assert.Equal(t, root, r.ProjectRoot())
	require.Len(t, r.Units(), 1)
	assert.Equal(t, filepath.Join(root, "services", "dns"), r.Units()[0].Path)

	other := t.TempDir()
	r, err = NewRegistry(Config{Log: testLogger(), ConfigFile: cfgPath, ProjectRoot: other})
	require.NoError(t, err)
	assert.Equal(t, other, r.ProjectRoot(), "an explicit root wins over the unit file location")
	assert.Equal(t, filepath.Join(other, "services", "dns"), r.Units()[0].Path)
}

func TestRegistry_TOMLFile(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "units.toml")
	writeFile(t, cfgPath, `
coverage_from = "unit"

[thresholds]
minimum = 50.0
target = 70.0
excellent = 95.0

[[units]]
name = "quora"
path = "services/quora"

[[phases.static_analysis]]
args = ["gofmt", "-l", "."]
fail_on_output = true
`)

	r, err := NewRegistry(Config{Log: testLogger(), ConfigFile: cfgPath, ProjectRoot: root})
	require.NoError(t, err)

	units := r.Units()
	require.Len(t, units, 1)
	assert.Equal(t, filepath.Join(root, "services", "quora"), units[0].Path)

	th, ok := r.Thresholds()
	require.True(t, ok)
	assert.Equal(t, 95.0, th.Excellent)

	cmds := r.Overrides()[types.PhaseStaticAnalysis]
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].FailOnOutput)
}

func TestRegistry_Discover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "services", "tinyurl", "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "services", "newsfeed", "go.mod"), "module example.com/newsfeed\n")
	writeFile(t, filepath.Join(root, "services", "docs", "README.md"), "not go\n")
	writeFile(t, filepath.Join(root, "services", ".cache", "x.go"), "package x\n")
	writeFile(t, filepath.Join(root, "services", "testdata", "x.go"), "package x\n")
	writeFile(t, filepath.Join(root, "app", "main.go"), "package main\n")

	cfgPath := filepath.Join(root, "units.yml")
	writeFile(t, cfgPath, `
units:
  - name: tinyurl
    path: services/tinyurl
    timeout: 1m
discover:
  - dir: services
`)

	r, err := NewRegistry(Config{Log: testLogger(), ConfigFile: cfgPath, ProjectRoot: root})
	require.NoError(t, err)

	units := r.Units()
	require.Len(t, units, 2)
	assert.Equal(t, "tinyurl", units[0].Name)
	assert.Equal(t, time.Minute, units[0].Timeout, "declared entry wins over discovery")
	assert.Equal(t, "newsfeed", units[1].Name)
	assert.Equal(t, "example.com/newsfeed", units[1].Module)
}

func TestRegistry_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "unknown yaml key",
			file:    "units.yaml",
			content: "unitz: []\n",
			wantErr: "unitz",
		},
		{
			name:    "unknown toml key",
			file:    "units.toml",
			content: "colour = \"red\"\n",
			wantErr: "unknown keys",
		},
		{
			name:    "unsupported extension",
			file:    "units.json",
			content: "{}",
			wantErr: "unsupported unit file extension",
		},
		{
			name:    "duplicate unit names",
			file:    "units.yaml",
			content: "units:\n  - name: a\n  - name: a\n",
			wantErr: "duplicate unit name",
		},
		{
			name:    "invalid kind",
			file:    "units.yaml",
			content: "units:\n  - name: a\n    kind: library\n",
			wantErr: "invalid kind",
		},
		{
			name:    "unordered thresholds",
			file:    "units.yaml",
			content: "thresholds:\n  minimum: 90\n  target: 80\n  excellent: 95\n",
			wantErr: "invalid thresholds",
		},
		{
			name:    "coverage from non coverage phase",
			file:    "units.yaml",
			content: "coverage_from: benchmark\n",
			wantErr: "does not produce coverage",
		},
		{
			name:    "unknown override phase",
			file:    "units.yaml",
			content: "phases:\n  fuzz:\n    - args: [go, test]\n",
			wantErr: "unknown phase",
		},
		{
			name:    "empty override command",
			file:    "units.yaml",
			content: "phases:\n  unit:\n    - args: []\n",
			wantErr: "no program",
		},
		{
			name:    "bad timeout",
			file:    "units.yaml",
			content: "default_timeout: soon\n",
			wantErr: "default_timeout",
		},
		{
			name:    "missing discover dir",
			file:    "units.yaml",
			content: "discover:\n  - dir: nowhere\n",
			wantErr: "discover",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			cfgPath := filepath.Join(root, tt.file)
			writeFile(t, cfgPath, tt.content)

			_, err := NewRegistry(Config{Log: testLogger(), ConfigFile: cfgPath, ProjectRoot: root})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := NewRegistry(Config{Log: testLogger(), ConfigFile: "does-not-exist.yaml"})
	assert.Error(t, err)
}

func TestLoadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	writeFile(t, path, "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Units)
}
