package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

const EnvVarPrefix = "OP_COVERAGE"

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a unit file (.yaml, .yml or .toml). Without it the built-in unit set is used.",
	}
	ProjectRoot = &cli.StringFlag{
		Name:    "project-root",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT_ROOT"),
		Usage:   "Directory unit paths are resolved against",
	}
	Phases = &cli.StringFlag{
		Name:    "phases",
		Value:   string(types.PhaseUnit),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PHASES"),
		Usage:   "Comma-separated phases to run (" + strings.Join(phaseNames(), ", ") + ")",
		Action: func(_ *cli.Context, v string) error {
			_, err := ParsePhaseList(v)
			return err
		},
	}
	All = &cli.BoolFlag{
		Name:    "all",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALL"),
		Usage:   "Run every phase. Overrides --phases.",
	}
	ReportDir = &cli.StringFlag{
		Name:    "report-dir",
		Value:   "test-reports",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_DIR"),
		Usage:   "Directory for run records, latest.json and the HTML report",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory for per-run phase logs",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   5 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Default per-invocation timeout for units that do not set one",
		Action: func(_ *cli.Context, v time.Duration) error {
			if v <= 0 {
				return fmt.Errorf("timeout must be positive, got %s", v)
			}
			return nil
		},
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Maximum units driven at once. 0 uses the number of CPUs.",
		Action: func(_ *cli.Context, v int) error {
			if v < 0 {
				return fmt.Errorf("concurrency must not be negative, got %d", v)
			}
			return nil
		},
	}
	MinCoverage = &cli.Float64Flag{
		Name:    "min-coverage",
		Value:   types.DefaultMinimumCoverage,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MIN_COVERAGE"),
		Usage:   "Average coverage below which the run fails",
	}
	TargetCoverage = &cli.Float64Flag{
		Name:    "target-coverage",
		Value:   types.DefaultTargetCoverage,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET_COVERAGE"),
		Usage:   "Coverage at which a unit is classified good",
	}
	ExcellentCoverage = &cli.Float64Flag{
		Name:    "excellent-coverage",
		Value:   types.DefaultExcellentCoverage,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXCELLENT_COVERAGE"),
		Usage:   "Coverage at which a unit is classified excellent",
	}
	CoverageFrom = &cli.StringFlag{
		Name:    "coverage-from",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_FROM"),
		Usage:   "Phase whose profile is summarized when several produce one (coverage or unit). Empty prefers coverage.",
		Action: func(_ *cli.Context, v string) error {
			if v == "" {
				return nil
			}
			p, err := types.ParsePhase(v)
			if err != nil {
				return err
			}
			if !p.ProducesCoverage() {
				return fmt.Errorf("phase %s does not produce coverage", p)
			}
			return nil
		},
	}
	CoverageHTML = &cli.BoolFlag{
		Name:    "coverage-html",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_HTML"),
		Usage:   "Render an HTML coverage page per unit",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	HistoryDB = &cli.StringFlag{
		Name:    "history-db",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HISTORY_DB"),
		Usage:   "Path to the SQLite run history. Defaults to history.db inside --report-dir.",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Periodically log the units still running",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress lines when --show-progress is set",
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ENABLED"),
		Usage:   "Serve /healthz",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Healthz listening address",
	}
	HealthzPort = &cli.IntFlag{
		Name:    "healthz.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_PORT"),
		Usage:   "Healthz listening port",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ConfigFile,
	ProjectRoot,
	Phases,
	All,
	ReportDir,
	LogDir,
	GoBinary,
	Timeout,
	Concurrency,
	MinCoverage,
	TargetCoverage,
	ExcellentCoverage,
	CoverageFrom,
	CoverageHTML,
	RunInterval,
	HistoryDB,
	ShowProgress,
	ProgressInterval,
	HealthzEnabled,
	HealthzAddr,
	HealthzPort,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}

// ParsePhaseList parses a comma-separated phase list.
func ParsePhaseList(v string) ([]types.Phase, error) {
	return types.ParsePhases([]string{v})
}

func phaseNames() []string {
	names := make([]string, 0, len(types.AllPhases))
	for _, p := range types.AllPhases {
		names = append(names, p.String())
	}
	return names
}
