package reporting

import "time"

// Direction describes how a coverage value moved between runs.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionStable  Direction = "stable"
	DirectionUnknown Direction = "unknown"
)

// TrendThreshold is the change, in percentage points, below which coverage is stable.
const TrendThreshold = 0.5

// Trend compares a run with the previous latest record.
type Trend struct {
	PreviousRunID     string      `json:"previous_run_id"`
	PreviousTimestamp time.Time   `json:"previous_timestamp"`
	AverageDelta      *float64    `json:"average_delta"`
	Direction         Direction   `json:"direction"`
	Units             []UnitTrend `json:"units"`
}

// UnitTrend is the per-unit coverage movement. Nil values mean no data.
type UnitTrend struct {
	Unit      string    `json:"unit"`
	Previous  *float64  `json:"previous"`
	Current   *float64  `json:"current"`
	Delta     *float64  `json:"delta"`
	Direction Direction `json:"direction"`
}

// ComputeTrend compares current against previous. Units are listed in the
// current run's order; units new to this run have direction unknown.
func ComputeTrend(previous RecordSummary, current RecordSummary) *Trend {
	t := &Trend{
		PreviousRunID:     previous.RunID,
		PreviousTimestamp: previous.Timestamp,
		Direction:         DirectionUnknown,
		Units:             make([]UnitTrend, 0, len(current.Units)),
	}

	if !previous.CoverageNoData && !current.CoverageNoData {
		t.AverageDelta, t.Direction = delta(previous.AverageCoverage, current.AverageCoverage)
	}

	for _, cur := range current.Units {
		ut := UnitTrend{Unit: cur.Name, Current: cur.Coverage, Direction: DirectionUnknown}
		if prev, ok := previous.Unit(cur.Name); ok {
			ut.Previous = prev.Coverage
		}
		if ut.Previous != nil && ut.Current != nil {
			ut.Delta, ut.Direction = delta(*ut.Previous, *ut.Current)
		}
		t.Units = append(t.Units, ut)
	}
	return t
}

func delta(previous, current float64) (*float64, Direction) {
	d := current - previous
	switch {
	case d > TrendThreshold:
		return &d, DirectionUp
	case d < -TrendThreshold:
		return &d, DirectionDown
	default:
		return &d, DirectionStable
	}
}
