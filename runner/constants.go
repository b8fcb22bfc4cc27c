package runner

import "time"

// Invocation constants
const (
	// DefaultTimeout bounds every toolchain invocation unless a unit overrides it.
	DefaultTimeout = 5 * time.Minute

	// DefaultWaitDelay bounds how long a killed invocation may keep its pipes open.
	DefaultWaitDelay = 2 * time.Second

	// Default go binary name
	DefaultGoBinary = "go"

	// Coverage artifacts, fixed per unit working directory
	DefaultProfileName  = "coverage.out"
	DefaultCoverageHTML = "coverage.html"

	// Test command arguments
	TestCommand        = "test"
	VetCommand         = "vet"
	ToolCommand        = "tool"
	CoverTool          = "cover"
	VerboseFlag        = "-v"
	RaceFlag           = "-race"
	CoverModeAtomic    = "-covermode=atomic"
	BenchMemFlag       = "-benchmem"
	AllPackagesPattern = "./..."
	CurrentDirPattern  = "."

	// IntegrationTestTimeout is passed to go test for the integration phase.
	IntegrationTestTimeout = "30s"
	// BenchTime is passed to go test for the benchmark phase.
	BenchTime = "3s"

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32

	// NotRunExitStatus marks invocations that failed to launch, timed out or were never started.
	NotRunExitStatus = -1
)
