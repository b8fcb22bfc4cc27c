// Package coverage turns coverage-tool text output into a types.CoverageReport.
//
// The parser understands `go tool cover -func` output and the looser
// "name  NN.N%" dialects printed by other tools:
//
//	github.com/acme/tinyurl/store.go:12:	Get		87.5%
//	github.com/acme/tinyurl/store.go:30:	Put		100.0%
//	total:					(statements)	84.7%
package coverage

import (
	"math"
	"strconv"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

// Parser interprets raw coverage output. Parse never fails: lines it cannot
// interpret are skipped and counted.
type Parser interface {
	Parse(raw string) *types.CoverageReport
}

// FuncParser is the default Parser.
type FuncParser struct{}

var _ Parser = FuncParser{}

func (FuncParser) Parse(raw string) *types.CoverageReport {
	return Parse(raw)
}

// Parse builds a report from raw coverage output. The first well-formed total
// line is authoritative; when none is present TotalFound stays false.
func Parse(raw string) *types.CoverageReport {
	report := &types.CoverageReport{Entries: []types.CoverageEntry{}}
	seen := make(map[string]struct{})

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(stripansi.Strip(line))
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		if isTotalLine(fields) {
			pct, ok := lastPercent(fields)
			if !ok || report.TotalFound {
				// Malformed totals and repeated totals do not override the first.
				if !ok {
					report.SkippedLines++
				}
				continue
			}
			report.TotalPercent = pct
			report.TotalFound = true
			continue
		}

		entry, ok := parseEntry(fields)
		if !ok {
			report.SkippedLines++
			continue
		}
		if _, dup := seen[entry.Key()]; dup {
			report.SkippedLines++
			continue
		}
		seen[entry.Key()] = struct{}{}
		report.Entries = append(report.Entries, entry)
	}
	return report
}

// isTotalLine reports whether a "total" marker token appears before the
// percentage token. Lines led by a file:line location are entries, so a
// function named Total is not mistaken for the aggregate.
func isTotalLine(fields []string) bool {
	idx := lastPercentIndex(fields)
	if idx <= 0 || isLocation(fields[0]) {
		return false
	}
	for _, f := range fields[:idx] {
		if strings.EqualFold(strings.TrimSuffix(f, ":"), "total") {
			return true
		}
	}
	return false
}

// isLocation reports whether the field is a "file:line:" style position.
func isLocation(field string) bool {
	ident, _, found := strings.Cut(field, ":")
	return found && ident != "" && !strings.EqualFold(ident, "total")
}

func parseEntry(fields []string) (types.CoverageEntry, bool) {
	if len(fields) < 2 {
		return types.CoverageEntry{}, false
	}
	idx := lastPercentIndex(fields)
	if idx <= 0 {
		return types.CoverageEntry{}, false
	}
	pct, ok := parsePercent(fields[idx])
	if !ok {
		return types.CoverageEntry{}, false
	}
	identifier, _, _ := strings.Cut(fields[0], ":")
	if identifier == "" {
		return types.CoverageEntry{}, false
	}
	return types.CoverageEntry{
		Identifier: identifier,
		Symbol:     strings.Join(fields[1:idx], " "),
		Percent:    pct,
	}, true
}

func lastPercent(fields []string) (float64, bool) {
	idx := lastPercentIndex(fields)
	if idx < 0 {
		return 0, false
	}
	return parsePercent(fields[idx])
}

func lastPercentIndex(fields []string) int {
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.HasSuffix(fields[i], "%") {
			return i
		}
	}
	return -1
}

// parsePercent accepts values in [0, 100] only. Anything else indicates a
// misaligned line and is rejected rather than clamped.
func parsePercent(field string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(field, "%"), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
