package model

import (
	"strings"
	"time"
)

// RiskClass is the driving-risk label attached to a telemetry reading.
type RiskClass string

const (
	RiskSafe     RiskClass = "safe"
	RiskModerate RiskClass = "moderate"
	RiskRisky    RiskClass = "risky"
	RiskUnknown  RiskClass = "unknown"
)

// ParseRiskClass maps a raw label to a RiskClass. Anything unrecognized is
// RiskUnknown.
func ParseRiskClass(s string) RiskClass {
	switch RiskClass(strings.ToLower(strings.TrimSpace(s))) {
	case RiskSafe:
		return RiskSafe
	case RiskModerate:
		return RiskModerate
	case RiskRisky:
		return RiskRisky
	default:
		return RiskUnknown
	}
}

// Known reports whether the class is one of safe, moderate or risky.
func (r RiskClass) Known() bool {
	return r == RiskSafe || r == RiskModerate || r == RiskRisky
}

func (r RiskClass) String() string { return string(r) }

// TelemetryEvent is one reading from one vehicle at one instant.
type TelemetryEvent struct {
	Key              string         `json:"key"`
	VehicleID        string         `json:"vehicle_id"`
	DriverID         string         `json:"driver_id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	SensorReadings   map[string]any `json:"sensor_readings"`
	RiskClass        RiskClass      `json:"risk_class"`
	ProcessedLocally bool           `json:"processed_locally"`
	Topic            string         `json:"topic,omitempty"`
	ReceivedAt       time.Time      `json:"received_at"`

	// Ordinal disambiguates readings sharing a vehicle and timestamp. It is
	// the sender sequence number when present, otherwise a payload digest.
	Ordinal string `json:"-"`
}

// Reading returns a numeric sensor reading by name.
func (e TelemetryEvent) Reading(name string) (float64, bool) {
	v, ok := e.SensorReadings[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
