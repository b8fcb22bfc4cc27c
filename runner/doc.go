// Package runner drives the Go toolchain across the units of a project.
//
// The main components are:
//   - ProcessRunner: runs one command in a working directory with a hard timeout
//   - Toolchain: maps a phase to the commands that implement it
//   - UnitTestDriver: runs the requested phases for one unit and collects its coverage
//   - ProjectAggregator: runs every unit, concurrently where directories allow, and
//     merges the results into a types.ProjectSummary
//   - ProgressIndicator: receives per-phase and per-unit progress
//
// Failures are folded into the result model. Nothing in this package returns an
// error for a failing test, a missing directory or a timed-out process.
package runner
