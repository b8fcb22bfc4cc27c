// Package exitcodes defines the process exit codes of op-coverage.
package exitcodes

// Exit codes:
//
// * Success (0): every unit passed every requested phase and the coverage gate held
// * TestFailure (1): a phase failed or average coverage is below the minimum
// * RuntimeErr (2): the run could not produce a trustworthy result
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
