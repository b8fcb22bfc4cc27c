package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// ProcessResult is the outcome of one invocation. Launch failures, timeouts and
// cancellations are reported with ExitStatus -1 and a cause in Stderr.
type ProcessResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	TimedOut   bool
}

// ProcessRunner executes external commands.
type ProcessRunner interface {
	// Run executes cmd in dir and blocks until it exits, times out or ctx is
	// canceled. It never panics and never leaves the process running.
	Run(ctx context.Context, cmd types.Command, dir string, timeout time.Duration) ProcessResult
}

// ExecRunner is the os/exec backed ProcessRunner.
type ExecRunner struct {
	log       log.Logger
	env       []string
	waitDelay time.Duration
}

var _ ProcessRunner = (*ExecRunner)(nil)

// NewExecRunner creates a runner. extraEnv entries are appended to the
// inherited environment of every command.
func NewExecRunner(logger log.Logger, extraEnv ...string) *ExecRunner {
	if logger == nil {
		logger = log.Root()
	}
	return &ExecRunner{
		log:       logger.New("component", "process-runner"),
		env:       extraEnv,
		waitDelay: DefaultWaitDelay,
	}
}

func (r *ExecRunner) Run(ctx context.Context, command types.Command, dir string, timeout time.Duration) ProcessResult {
	start := time.Now()
	if err := command.Validate(); err != nil {
		return ProcessResult{ExitStatus: NotRunExitStatus, Stderr: err.Error()}
	}
	if ctx.Err() != nil {
		return ProcessResult{ExitStatus: NotRunExitStatus, Stderr: fmt.Sprintf("canceled: %v", context.Cause(ctx))}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, command.Args[0], command.Args[1:]...)
	cmd.Dir = dir
	cmd.Env = telemetry.InstrumentEnvironment(ctx, append(os.Environ(), r.env...))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = r.waitDelay

	r.log.Debug("Running command", "cmd", command.String(), "dir", dir, "timeout", timeout)
	err := cmd.Run()

	result := ProcessResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitStatus = 0
	case ctx.Err() != nil:
		result.ExitStatus = NotRunExitStatus
		result.Stderr = withCause(fmt.Sprintf("canceled: %v", context.Cause(ctx)), result.Stderr)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.ExitStatus = NotRunExitStatus
		result.TimedOut = true
		result.Stderr = withCause(fmt.Sprintf("timed out after %s", timeout), result.Stderr)
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		result.ExitStatus = exitErr.ExitCode()
	default:
		// Launch failures and signals other than our own kill.
		result.ExitStatus = NotRunExitStatus
		result.Stderr = withCause(err.Error(), result.Stderr)
	}

	r.log.Debug("Command finished", "cmd", command.String(), "dir", dir,
		"exitStatus", result.ExitStatus, "timedOut", result.TimedOut, "duration", result.Duration)
	return result
}

func withCause(cause, stderr string) string {
	if stderr == "" {
		return cause
	}
	return cause + "\n" + stderr
}
