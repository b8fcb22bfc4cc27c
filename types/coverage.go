package types

import "fmt"

// CoverageEntry is the coverage of one function or file.
type CoverageEntry struct {
	Identifier string  `json:"identifier"`
	Symbol     string  `json:"symbol,omitempty"`
	Percent    float64 `json:"percent"`
}

// Key identifies the entry within its report.
func (e CoverageEntry) Key() string {
	if e.Symbol == "" {
		return e.Identifier
	}
	return e.Identifier + ":" + e.Symbol
}

// CoverageReport is the normalized coverage for one unit.
//
// TotalPercent is the tool's own total and is never recomputed from the
// entries. When TotalFound is false the report carries no coverage value:
// that is "no data", which is distinct from a measured 0%.
type CoverageReport struct {
	TotalPercent float64         `json:"total_percent"`
	TotalFound   bool            `json:"total_found"`
	Entries      []CoverageEntry `json:"entries"`
	// SkippedLines counts non-blank lines that could not be interpreted.
	SkippedLines int `json:"skipped_lines"`
}

// NoData reports whether the report lacks a coverage value.
func (r *CoverageReport) NoData() bool {
	return r == nil || !r.TotalFound
}

// Percent returns the total and whether it is present.
func (r *CoverageReport) Percent() (float64, bool) {
	if r.NoData() {
		return 0, false
	}
	return r.TotalPercent, true
}

// Validate checks value ranges and entry uniqueness.
func (r *CoverageReport) Validate() error {
	if r == nil {
		return nil
	}
	if !validPercent(r.TotalPercent) {
		return fmt.Errorf("total coverage %.2f out of range", r.TotalPercent)
	}
	if !r.TotalFound && r.TotalPercent != 0 {
		return fmt.Errorf("total coverage %.2f set without a total", r.TotalPercent)
	}
	if r.SkippedLines < 0 {
		return fmt.Errorf("negative skipped line count %d", r.SkippedLines)
	}
	seen := make(map[string]struct{}, len(r.Entries))
	for _, e := range r.Entries {
		if e.Identifier == "" {
			return fmt.Errorf("coverage entry without identifier")
		}
		if !validPercent(e.Percent) {
			return fmt.Errorf("coverage entry %s: %.2f out of range", e.Key(), e.Percent)
		}
		if _, dup := seen[e.Key()]; dup {
			return fmt.Errorf("duplicate coverage entry %s", e.Key())
		}
		seen[e.Key()] = struct{}{}
	}
	return nil
}

// EntriesBelow returns the entries under the given percentage, in report order.
func (r *CoverageReport) EntriesBelow(percent float64) []CoverageEntry {
	if r == nil {
		return nil
	}
	var out []CoverageEntry
	for _, e := range r.Entries {
		if e.Percent < percent {
			out = append(out, e)
		}
	}
	return out
}

func validPercent(p float64) bool {
	return p >= 0 && p <= 100
}
