package model

import "time"

// VehicleStatistics is the rolling risk aggregate of one vehicle.
type VehicleStatistics struct {
	VehicleID             string    `json:"vehicle_id"`
	TotalReadings         uint64    `json:"total_readings"`
	CountSafe             uint64    `json:"count_safe"`
	CountModerate         uint64    `json:"count_moderate"`
	CountRisky            uint64    `json:"count_risky"`
	PctSafe               float64   `json:"pct_safe"`
	PctModerate           float64   `json:"pct_moderate"`
	PctRisky              float64   `json:"pct_risky"`
	OverallClassification RiskClass `json:"overall_classification"`
	FirstSeen             time.Time `json:"first_seen"`
	LastSeen              time.Time `json:"last_seen"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CountUnknown is the number of readings that carried no usable class.
func (s VehicleStatistics) CountUnknown() uint64 {
	known := s.CountSafe + s.CountModerate + s.CountRisky
	if known > s.TotalReadings {
		return 0
	}
	return s.TotalReadings - known
}

// Percent returns 100*count/total, or 0 for an empty total.
func Percent(count, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}
