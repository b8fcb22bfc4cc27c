package opcov

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-coverage/flags"
	"github.com/ethereum-optimism/infra/op-coverage/history"
	"github.com/ethereum-optimism/infra/op-coverage/registry"
	"github.com/ethereum-optimism/infra/op-coverage/service"
	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// Config holds the application configuration
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Units       []types.Unit
	Phases      []types.Phase
	// Overrides replace the built-in commands of a phase.
	Overrides map[types.Phase][]types.Command

	ReportDir string
	LogDir    string
	HistoryDB string

	GoBinary     string
	Timeout      time.Duration // Per-invocation timeout for units without their own
	Concurrency  int           // Units driven at once (0 = one per CPU)
	Thresholds   types.CoverageThresholds
	CoverageFrom types.Phase
	CoverageHTML bool

	RunInterval      time.Duration // Interval between runs
	RunOnce          bool          // Exit after one run
	ShowProgress     bool
	ProgressInterval time.Duration

	Service service.Config
	Log     log.Logger
}

// NewConfig creates a Config from the cli context. Explicitly set flags win
// over the unit file, which wins over the flag defaults.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	configFile := ctx.String(flags.ConfigFile.Name)
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for unit file '%s': %w", configFile, err)
		}
		configFile = abs
	}

	regCfg := registry.Config{Log: log, ConfigFile: configFile}
	if ctx.IsSet(flags.ProjectRoot.Name) || configFile == "" {
		regCfg.ProjectRoot = ctx.String(flags.ProjectRoot.Name)
	}
	reg, err := registry.NewRegistry(regCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	phases, err := resolvePhases(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := resolveThresholds(ctx, reg)
	if err != nil {
		return nil, err
	}

	timeout := ctx.Duration(flags.Timeout.Name)
	if d, ok := reg.DefaultTimeout(); ok && !ctx.IsSet(flags.Timeout.Name) {
		timeout = d
	}

	var coverageFrom types.Phase
	if ctx.IsSet(flags.CoverageFrom.Name) {
		if v := ctx.String(flags.CoverageFrom.Name); v != "" {
			if coverageFrom, err = types.ParsePhase(v); err != nil {
				return nil, err
			}
		}
	} else if p, ok := reg.CoverageFrom(); ok {
		coverageFrom = p
	}

	coverageHTML := ctx.Bool(flags.CoverageHTML.Name)
	if v, ok := reg.CoverageHTML(); ok && !ctx.IsSet(flags.CoverageHTML.Name) {
		coverageHTML = v
	}

	reportDir, err := absDir(ctx.String(flags.ReportDir.Name), "test-reports")
	if err != nil {
		return nil, err
	}
	logDir, err := absDir(ctx.String(flags.LogDir.Name), "logs")
	if err != nil {
		return nil, err
	}
	historyDB := ctx.String(flags.HistoryDB.Name)
	if historyDB == "" {
		historyDB = filepath.Join(reportDir, history.DefaultFilename)
	} else if historyDB, err = filepath.Abs(historyDB); err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for history database: %w", err)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, fmt.Errorf("run interval cannot be negative: %s", runInterval)
	}

	return &Config{
		ConfigFile:       configFile,
		ProjectRoot:      reg.ProjectRoot(),
		Units:            reg.Units(),
		Phases:           phases,
		Overrides:        reg.Overrides(),
		ReportDir:        reportDir,
		LogDir:           logDir,
		HistoryDB:        historyDB,
		GoBinary:         ctx.String(flags.GoBinary.Name),
		Timeout:          timeout,
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		Thresholds:       thresholds,
		CoverageFrom:     coverageFrom,
		CoverageHTML:     coverageHTML,
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Service: service.Config{
			HealthzEnabled: ctx.Bool(flags.HealthzEnabled.Name),
			HealthzHost:    ctx.String(flags.HealthzAddr.Name),
			HealthzPort:    ctx.Int(flags.HealthzPort.Name),
			MetricsEnabled: metricsCfg.Enabled,
			MetricsHost:    metricsCfg.ListenAddr,
			MetricsPort:    metricsCfg.ListenPort,
		},
		Log: log,
	}, nil
}

func resolvePhases(ctx *cli.Context) ([]types.Phase, error) {
	if ctx.Bool(flags.All.Name) {
		return append([]types.Phase(nil), types.AllPhases...), nil
	}
	phases, err := flags.ParsePhaseList(ctx.String(flags.Phases.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flags.Phases.Name, err)
	}
	return phases, nil
}

func resolveThresholds(ctx *cli.Context, reg *registry.Registry) (types.CoverageThresholds, error) {
	th := types.DefaultThresholds()
	if fileTh, ok := reg.Thresholds(); ok {
		th = fileTh
	}
	if ctx.IsSet(flags.MinCoverage.Name) {
		th.Minimum = ctx.Float64(flags.MinCoverage.Name)
	}
	if ctx.IsSet(flags.TargetCoverage.Name) {
		th.Target = ctx.Float64(flags.TargetCoverage.Name)
	}
	if ctx.IsSet(flags.ExcellentCoverage.Name) {
		th.Excellent = ctx.Float64(flags.ExcellentCoverage.Name)
	}
	if err := th.Validate(); err != nil {
		return types.CoverageThresholds{}, fmt.Errorf("invalid coverage thresholds: %w", err)
	}
	return th, nil
}

func absDir(dir, fallback string) (string, error) {
	if dir == "" {
		dir = fallback
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for '%s': %w", dir, err)
	}
	return abs, nil
}
