// Package aggregate maintains per-vehicle risk statistics.
package aggregate

import (
	"time"

	"github.com/kilianp07/fleetrisk/core/model"
)

// Policy holds the classification thresholds, in percent.
type Policy struct {
	RiskyPct    float64
	ModeratePct float64
}

// DefaultPolicy flags a vehicle risky above 30% risky readings and moderate
// above 50% moderate readings.
var DefaultPolicy = Policy{RiskyPct: 30, ModeratePct: 50}

// Classify derives the overall class from the two percentages. The risky
// rule takes precedence.
func (p Policy) Classify(pctRisky, pctModerate float64) model.RiskClass {
	switch {
	case pctRisky > p.RiskyPct:
		return model.RiskRisky
	case pctModerate > p.ModeratePct:
		return model.RiskModerate
	default:
		return model.RiskSafe
	}
}

// Next folds ev into prev. prev is nil for a vehicle's first event and is
// never modified.
func Next(prev *model.VehicleStatistics, ev model.TelemetryEvent, p Policy, now time.Time) model.VehicleStatistics {
	var s model.VehicleStatistics
	if prev != nil {
		s = *prev
	} else {
		s = model.VehicleStatistics{
			VehicleID: ev.VehicleID,
			FirstSeen: ev.Timestamp,
			LastSeen:  ev.Timestamp,
		}
	}

	s.TotalReadings++
	switch ev.RiskClass {
	case model.RiskSafe:
		s.CountSafe++
	case model.RiskModerate:
		s.CountModerate++
	case model.RiskRisky:
		s.CountRisky++
	}

	s.PctSafe = model.Percent(s.CountSafe, s.TotalReadings)
	s.PctModerate = model.Percent(s.CountModerate, s.TotalReadings)
	s.PctRisky = model.Percent(s.CountRisky, s.TotalReadings)
	s.OverallClassification = p.Classify(s.PctRisky, s.PctModerate)

	if ev.Timestamp.After(s.LastSeen) {
		s.LastSeen = ev.Timestamp
	}
	s.UpdatedAt = now
	return s
}
